// Package ingest turns uploaded scanner reports into workspace entities.
//
// A report goes through three stages: a format plugin parses it into a
// CanonicalBatch, the MergeEngine applies the batch to the entity store in one
// transaction, and the Service queues reports so that the jobs of one
// workspace are applied in order by a single worker.
package ingest

import (
	"time"

	"github.com/openctemio/scanmerge/pkg/domain/command"
	"github.com/openctemio/scanmerge/pkg/domain/credential"
	"github.com/openctemio/scanmerge/pkg/domain/host"
	"github.com/openctemio/scanmerge/pkg/domain/note"
	"github.com/openctemio/scanmerge/pkg/domain/vulnerability"
)

// =============================================================================
// Limits
// =============================================================================

const (
	// MaxFactsPerReport caps each fact list of a single batch.
	MaxFactsPerReport = 100000

	// MaxErrorsToReturn limits the number of per-fact errors kept in a result.
	MaxErrorsToReturn = 100
)

// =============================================================================
// Canonical batch
// =============================================================================

// CommandMeta describes the tool run behind a report.
type CommandMeta struct {
	Tool         string
	CommandLine  string
	Params       string
	ImportSource command.ImportSource
	User         string
	Hostname     string
	IP           string
	StartDate    time.Time
}

// HostFact is a reported host.
type HostFact struct {
	IP    string
	Attrs host.Attributes
}

// ServiceFact is a reported service on the host at index Host.
type ServiceFact struct {
	Host     int
	Port     int
	Protocol host.Protocol
	Attrs    host.ServiceAttributes
}

// ParentRef points at a host or a service of the same batch by index. A valid
// reference sets exactly one of the two.
type ParentRef struct {
	Host    *int
	Service *int
}

// HostRef references the host at index i.
func HostRef(i int) ParentRef { return ParentRef{Host: &i} }

// ServiceRef references the service at index i.
func ServiceRef(i int) ParentRef { return ParentRef{Service: &i} }

// VulnerabilityFact is a reported vulnerability.
type VulnerabilityFact struct {
	Parent ParentRef
	Name   string
	Attrs  vulnerability.Attributes
}

// CredentialFact is a reported credential.
type CredentialFact struct {
	Parent   ParentRef
	Username string
	Attrs    credential.Attributes
}

// NoteTarget points at a host, service or vulnerability of the same batch.
type NoteTarget struct {
	Kind  note.ObjectType
	Index int
}

// NoteFact is a reported comment.
type NoteFact struct {
	Target NoteTarget
	Text   string
}

// CanonicalBatch is the format-independent form of one report. Facts refer to
// each other by index into the batch's own lists.
type CanonicalBatch struct {
	Command         CommandMeta
	Hosts           []HostFact
	Services        []ServiceFact
	Vulnerabilities []VulnerabilityFact
	Credentials     []CredentialFact
	Notes           []NoteFact

	// Malformed lists the entries the parser skipped.
	Malformed []*ParseError
}

// Skipped returns the number of malformed entries dropped by the parser.
func (b *CanonicalBatch) Skipped() int { return len(b.Malformed) }

// Skip records a malformed entry.
func (b *CanonicalBatch) Skip(plugin, entry string, err error) {
	b.Malformed = append(b.Malformed, &ParseError{
		Kind:   ParseErrMalformedEntry,
		Plugin: plugin,
		Entry:  entry,
		Err:    err,
	})
}

// AddHost appends a host and returns its index.
func (b *CanonicalBatch) AddHost(f HostFact) int {
	b.Hosts = append(b.Hosts, f)
	return len(b.Hosts) - 1
}

// AddService appends a service and returns its index.
func (b *CanonicalBatch) AddService(f ServiceFact) int {
	b.Services = append(b.Services, f)
	return len(b.Services) - 1
}

// AddVulnerability appends a vulnerability and returns its index.
func (b *CanonicalBatch) AddVulnerability(f VulnerabilityFact) int {
	b.Vulnerabilities = append(b.Vulnerabilities, f)
	return len(b.Vulnerabilities) - 1
}

// AddCredential appends a credential.
func (b *CanonicalBatch) AddCredential(f CredentialFact) {
	b.Credentials = append(b.Credentials, f)
}

// AddNote appends a note.
func (b *CanonicalBatch) AddNote(f NoteFact) {
	b.Notes = append(b.Notes, f)
}

// FactCount returns the number of facts in the batch.
func (b *CanonicalBatch) FactCount() int {
	return len(b.Hosts) + len(b.Services) + len(b.Vulnerabilities) + len(b.Credentials) + len(b.Notes)
}
