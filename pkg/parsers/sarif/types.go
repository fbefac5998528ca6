// Package sarif decodes SARIF 2.1.0 logs as produced by dynamic web
// scanners: results locate a finding by URL and may carry the HTTP exchange
// that triggered it.
//
// Only the subset of the format that maps onto hosts, services and web
// vulnerabilities is modelled. Unknown properties are ignored.
package sarif

// Log is the root SARIF object.
type Log struct {
	Version string `json:"version"`
	Schema  string `json:"$schema,omitempty"`
	Runs    []Run  `json:"runs"`
}

// Run is one invocation of one tool.
type Run struct {
	Tool        Tool         `json:"tool"`
	Results     []Result     `json:"results,omitempty"`
	Invocations []Invocation `json:"invocations,omitempty"`
}

// Tool describes the analysis tool.
type Tool struct {
	Driver ToolComponent `json:"driver"`
}

// ToolComponent is the tool driver.
type ToolComponent struct {
	Name    string                `json:"name"`
	Version string                `json:"version,omitempty"`
	Rules   []ReportingDescriptor `json:"rules,omitempty"`
}

// ReportingDescriptor describes a rule.
type ReportingDescriptor struct {
	ID                   string                    `json:"id"`
	Name                 string                    `json:"name,omitempty"`
	ShortDescription     *MultiformatMessageString `json:"shortDescription,omitempty"`
	FullDescription      *MultiformatMessageString `json:"fullDescription,omitempty"`
	Help                 *MultiformatMessageString `json:"help,omitempty"`
	HelpURI              string                    `json:"helpUri,omitempty"`
	DefaultConfiguration *ReportingConfiguration   `json:"defaultConfiguration,omitempty"`
	Properties           Properties                `json:"properties,omitempty"`
}

// ReportingConfiguration holds a rule's default level.
type ReportingConfiguration struct {
	Level Level `json:"level,omitempty"`
}

// Result is a single finding.
type Result struct {
	RuleID       string                        `json:"ruleId,omitempty"`
	RuleIndex    *int                          `json:"ruleIndex,omitempty"`
	Rule         *ReportingDescriptorReference `json:"rule,omitempty"`
	Kind         Kind                          `json:"kind,omitempty"`
	Level        Level                         `json:"level,omitempty"`
	Message      Message                       `json:"message"`
	Locations    []Location                    `json:"locations,omitempty"`
	WebRequest   *WebRequest                   `json:"webRequest,omitempty"`
	WebResponse  *WebResponse                  `json:"webResponse,omitempty"`
	Suppressions []Suppression                 `json:"suppressions,omitempty"`
	Properties   Properties                    `json:"properties,omitempty"`
}

// ReportingDescriptorReference identifies a rule by id or index.
type ReportingDescriptorReference struct {
	ID    string `json:"id,omitempty"`
	Index *int   `json:"index,omitempty"`
}

// Location is where a result was found.
type Location struct {
	PhysicalLocation *PhysicalLocation `json:"physicalLocation,omitempty"`
}

// PhysicalLocation points into an artifact.
type PhysicalLocation struct {
	ArtifactLocation *ArtifactLocation `json:"artifactLocation,omitempty"`
}

// ArtifactLocation is the URI of an artifact. Web scanners use the request URL.
type ArtifactLocation struct {
	URI string `json:"uri,omitempty"`
}

// WebRequest is the HTTP request behind a result.
type WebRequest struct {
	Protocol   string            `json:"protocol,omitempty"`
	Version    string            `json:"version,omitempty"`
	Target     string            `json:"target,omitempty"`
	Method     string            `json:"method,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Parameters map[string]string `json:"parameters,omitempty"`
	Body       *ArtifactContent  `json:"body,omitempty"`
}

// WebResponse is the HTTP response behind a result.
type WebResponse struct {
	Protocol     string            `json:"protocol,omitempty"`
	Version      string            `json:"version,omitempty"`
	StatusCode   int               `json:"statusCode,omitempty"`
	ReasonPhrase string            `json:"reasonPhrase,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	Body         *ArtifactContent  `json:"body,omitempty"`
}

// ArtifactContent is inline content.
type ArtifactContent struct {
	Text string `json:"text,omitempty"`
}

// Message is a user-facing message.
type Message struct {
	Text     string `json:"text,omitempty"`
	Markdown string `json:"markdown,omitempty"`
	ID       string `json:"id,omitempty"`
}

// MultiformatMessageString is a message in text and markdown.
type MultiformatMessageString struct {
	Text     string `json:"text"`
	Markdown string `json:"markdown,omitempty"`
}

// Suppression marks a result as suppressed.
type Suppression struct {
	Kind          string `json:"kind"`
	Status        string `json:"status,omitempty"`
	Justification string `json:"justification,omitempty"`
}

// Invocation describes how the tool was run.
type Invocation struct {
	CommandLine         string `json:"commandLine,omitempty"`
	StartTimeUTC        string `json:"startTimeUtc,omitempty"`
	ExecutionSuccessful bool   `json:"executionSuccessful"`
}

// Properties is a property bag.
type Properties map[string]any

// Level is the severity level of a result.
type Level string

const (
	LevelNone    Level = "none"
	LevelNote    Level = "note"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// IsValid reports whether l is a SARIF level. Empty is valid.
func (l Level) IsValid() bool {
	switch l {
	case LevelNone, LevelNote, LevelWarning, LevelError, "":
		return true
	default:
		return false
	}
}

// Kind is the evaluation state of a result.
type Kind string

const (
	KindNotApplicable Kind = "notApplicable"
	KindPass          Kind = "pass"
	KindFail          Kind = "fail"
	KindReview        Kind = "review"
	KindOpen          Kind = "open"
	KindInformational Kind = "informational"
)
