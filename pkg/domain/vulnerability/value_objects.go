package vulnerability

import (
	"fmt"
	"strings"

	"github.com/openctemio/scanmerge/pkg/domain/shared"
)

// Severity represents the severity of a vulnerability.
type Severity string

const (
	SeverityCritical      Severity = "critical"
	SeverityHigh          Severity = "high"
	SeverityMedium        Severity = "medium"
	SeverityLow           Severity = "low"
	SeverityInformational Severity = "informational"
	SeverityUnclassified  Severity = "unclassified"
)

var severityRank = map[Severity]int{
	SeverityUnclassified:  0,
	SeverityInformational: 1,
	SeverityLow:           2,
	SeverityMedium:        3,
	SeverityHigh:          4,
	SeverityCritical:      5,
}

// AllSeverities returns every severity from most to least severe.
func AllSeverities() []Severity {
	return []Severity{
		SeverityCritical, SeverityHigh, SeverityMedium,
		SeverityLow, SeverityInformational, SeverityUnclassified,
	}
}

// ParseSeverity parses a severity, accepting the short aliases tools emit.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical", "crit":
		return SeverityCritical, nil
	case "high":
		return SeverityHigh, nil
	case "medium", "med", "moderate":
		return SeverityMedium, nil
	case "low":
		return SeverityLow, nil
	case "informational", "info", "information", "note":
		return SeverityInformational, nil
	case "unclassified", "unknown", "":
		return SeverityUnclassified, nil
	default:
		return "", fmt.Errorf("%w: invalid severity %q", shared.ErrValidation, s)
	}
}

// IsValid reports whether s is one of the canonical severities.
func (s Severity) IsValid() bool {
	_, ok := severityRank[s]
	return ok
}

// Rank orders severities; higher is more severe.
func (s Severity) Rank() int {
	return severityRank[s]
}

func (s Severity) String() string { return string(s) }

// Status is the triage state of a vulnerability.
type Status string

const (
	StatusOpen         Status = "open"
	StatusClosed       Status = "closed"
	StatusReopened     Status = "re-opened"
	StatusRiskAccepted Status = "risk-accepted"
)

// ParseStatus parses a status. Empty input means open.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "open", "opened":
		return StatusOpen, nil
	case "closed", "fixed", "resolved":
		return StatusClosed, nil
	case "re-opened", "reopened":
		return StatusReopened, nil
	case "risk-accepted", "risk_accepted", "accepted":
		return StatusRiskAccepted, nil
	default:
		return "", fmt.Errorf("%w: invalid status %q", shared.ErrValidation, s)
	}
}

// IsOpen reports whether the status counts as an open issue.
func (s Status) IsOpen() bool {
	return s == StatusOpen || s == StatusReopened
}

func (s Status) String() string { return string(s) }

// Kind distinguishes generic vulnerabilities from web ones.
type Kind string

const (
	KindGeneric Kind = "vulnerability"
	KindWeb     Kind = "vulnerability_web"
)

// WebDetails carries the request coordinates of a web vulnerability.
type WebDetails struct {
	Method        string
	ParameterName string
	Path          string
	Website       string
	Request       string
	Response      string
}
