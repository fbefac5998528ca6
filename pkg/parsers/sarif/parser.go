package sarif

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
)

// Parser errors.
var (
	ErrInvalidSARIF       = errors.New("invalid SARIF format")
	ErrUnsupportedVersion = errors.New("unsupported SARIF version")
	ErrEmptyRuns          = errors.New("SARIF log contains no runs")
)

// SupportedVersions contains the supported SARIF versions.
var SupportedVersions = []string{"2.1.0"}

// Options configures which results Decode keeps.
type Options struct {
	// IncludePassedResults keeps results with kind "pass".
	IncludePassedResults bool

	// IncludeSuppressed keeps suppressed results.
	IncludeSuppressed bool

	// MaxResults caps the results kept per run (0 = unlimited).
	MaxResults int
}

// Decode parses and validates a SARIF log, then drops filtered results.
func Decode(data []byte, opts Options) (*Log, error) {
	var log Log
	if err := json.Unmarshal(data, &log); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSARIF, err)
	}
	if !slices.Contains(SupportedVersions, log.Version) {
		return nil, fmt.Errorf("%w: %q (supported: %v)", ErrUnsupportedVersion, log.Version, SupportedVersions)
	}
	if len(log.Runs) == 0 {
		return nil, ErrEmptyRuns
	}

	for i := range log.Runs {
		run := &log.Runs[i]
		kept := run.Results[:0]
		for _, r := range run.Results {
			if !opts.IncludePassedResults && r.Kind == KindPass {
				continue
			}
			if !opts.IncludeSuppressed && len(r.Suppressions) > 0 {
				continue
			}
			kept = append(kept, r)
			if opts.MaxResults > 0 && len(kept) >= opts.MaxResults {
				break
			}
		}
		run.Results = kept
	}
	return &log, nil
}

// RuleFor finds the rule descriptor of a result: by index first, then by id.
func (run *Run) RuleFor(r *Result) *ReportingDescriptor {
	rules := run.Tool.Driver.Rules

	idx := r.RuleIndex
	if r.Rule != nil && r.Rule.Index != nil {
		idx = r.Rule.Index
	}
	if idx != nil && *idx >= 0 && *idx < len(rules) {
		return &rules[*idx]
	}

	id := r.RuleID
	if r.Rule != nil && r.Rule.ID != "" {
		id = r.Rule.ID
	}
	if id == "" {
		return nil
	}
	for i := range rules {
		if rules[i].ID == id {
			return &rules[i]
		}
	}
	return nil
}

// EffectiveLevel is the result's level, else the rule's default level, else
// "warning" as the format prescribes.
func (r *Result) EffectiveLevel(rule *ReportingDescriptor) Level {
	if r.Level != "" {
		return r.Level
	}
	if rule != nil && rule.DefaultConfiguration != nil && rule.DefaultConfiguration.Level != "" {
		return rule.DefaultConfiguration.Level
	}
	return LevelWarning
}

// TargetURI is the URL a result refers to: the web request target, else the
// first location URI.
func (r *Result) TargetURI() string {
	if r.WebRequest != nil && r.WebRequest.Target != "" {
		return r.WebRequest.Target
	}
	for _, loc := range r.Locations {
		if loc.PhysicalLocation != nil && loc.PhysicalLocation.ArtifactLocation != nil && loc.PhysicalLocation.ArtifactLocation.URI != "" {
			return loc.PhysicalLocation.ArtifactLocation.URI
		}
	}
	return ""
}

// SecuritySeverity reads the "security-severity" score (0-10) from the
// result's properties, else from the rule's. Scores are strings or numbers.
func SecuritySeverity(rule *ReportingDescriptor, r *Result) (float64, bool) {
	if score, ok := r.Properties.securitySeverity(); ok {
		return score, true
	}
	if rule != nil {
		return rule.Properties.securitySeverity()
	}
	return 0, false
}

func (p Properties) securitySeverity() (float64, bool) {
	switch v := p["security-severity"].(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
