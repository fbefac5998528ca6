// Package vulnerability provides the vulnerability entity, its dedup identity and
// the field registry used by automation rules.
package vulnerability

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/openctemio/scanmerge/pkg/domain/shared"
)

// Attributes are the reported, mergeable fields of a vulnerability.
type Attributes struct {
	Description string
	Resolution  string
	Data        string
	Severity    Severity
	Status      Status
	Confirmed   bool
	References  []string
	Web         *WebDetails
}

// Vulnerability is a weakness reported against exactly one host or service.
type Vulnerability struct {
	id          shared.ID
	workspaceID shared.ID
	parent      shared.Parent
	kind        Kind
	name        string
	description string
	resolution  string
	data        string
	severity    Severity
	status      Status
	confirmed   bool
	references  []string
	web         *WebDetails
	dedupKey    string
	creator     string
	createdAt   time.Time
	updatedAt   time.Time
}

// NewVulnerability creates a vulnerability. The parent must reference exactly one
// of host or service.
func NewVulnerability(workspaceID shared.ID, parent shared.Parent, name, creator string, attrs Attributes) (*Vulnerability, error) {
	if workspaceID.IsZero() {
		return nil, fmt.Errorf("%w: workspace id is required", shared.ErrValidation)
	}
	if err := parent.Validate(); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", shared.ErrValidation)
	}

	severity := attrs.Severity
	if severity == "" {
		severity = SeverityUnclassified
	}
	if !severity.IsValid() {
		return nil, fmt.Errorf("%w: invalid severity %q", shared.ErrValidation, severity)
	}
	status := attrs.Status
	if status == "" {
		status = StatusOpen
	}

	now := time.Now().UTC()
	v := &Vulnerability{
		id:          shared.NewID(),
		workspaceID: workspaceID,
		parent:      parent,
		kind:        KindGeneric,
		name:        name,
		description: strings.TrimSpace(attrs.Description),
		resolution:  strings.TrimSpace(attrs.Resolution),
		data:        attrs.Data,
		severity:    severity,
		status:      status,
		confirmed:   attrs.Confirmed,
		creator:     creator,
		createdAt:   now,
		updatedAt:   now,
	}
	if attrs.Web != nil {
		web := *attrs.Web
		web.Method = strings.ToUpper(strings.TrimSpace(web.Method))
		v.kind = KindWeb
		v.web = &web
	}
	v.addReferences(attrs.References)
	v.dedupKey = DedupKey(workspaceID, parent, name, v.description, v.web)
	return v, nil
}

// Data holds the persisted form of a Vulnerability.
type Data struct {
	ID          shared.ID
	WorkspaceID shared.ID
	Parent      shared.Parent
	Kind        Kind
	Name        string
	Description string
	Resolution  string
	Data        string
	Severity    Severity
	Status      Status
	Confirmed   bool
	References  []string
	Web         *WebDetails
	DedupKey    string
	Creator     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Reconstitute rebuilds a Vulnerability from persistence.
func Reconstitute(d Data) *Vulnerability {
	v := &Vulnerability{
		id:          d.ID,
		workspaceID: d.WorkspaceID,
		parent:      d.Parent,
		kind:        d.Kind,
		name:        d.Name,
		description: d.Description,
		resolution:  d.Resolution,
		data:        d.Data,
		severity:    d.Severity,
		status:      d.Status,
		confirmed:   d.Confirmed,
		references:  slices.Clone(d.References),
		dedupKey:    d.DedupKey,
		creator:     d.Creator,
		createdAt:   d.CreatedAt,
		updatedAt:   d.UpdatedAt,
	}
	if d.Web != nil {
		web := *d.Web
		v.web = &web
	}
	if v.kind == "" {
		v.kind = KindGeneric
	}
	return v
}

// Snapshot returns the persisted form of the vulnerability.
func (v *Vulnerability) Snapshot() Data {
	d := Data{
		ID:          v.id,
		WorkspaceID: v.workspaceID,
		Parent:      v.parent,
		Kind:        v.kind,
		Name:        v.name,
		Description: v.description,
		Resolution:  v.resolution,
		Data:        v.data,
		Severity:    v.severity,
		Status:      v.status,
		Confirmed:   v.confirmed,
		References:  slices.Clone(v.references),
		DedupKey:    v.dedupKey,
		Creator:     v.creator,
		CreatedAt:   v.createdAt,
		UpdatedAt:   v.updatedAt,
	}
	if v.web != nil {
		web := *v.web
		d.Web = &web
	}
	return d
}

func (v *Vulnerability) ID() shared.ID          { return v.id }
func (v *Vulnerability) WorkspaceID() shared.ID { return v.workspaceID }
func (v *Vulnerability) Parent() shared.Parent  { return v.parent }
func (v *Vulnerability) Kind() Kind             { return v.kind }
func (v *Vulnerability) Name() string           { return v.name }
func (v *Vulnerability) Description() string    { return v.description }
func (v *Vulnerability) Resolution() string     { return v.resolution }
func (v *Vulnerability) Data() string           { return v.data }
func (v *Vulnerability) Severity() Severity     { return v.severity }
func (v *Vulnerability) Status() Status         { return v.status }
func (v *Vulnerability) Confirmed() bool        { return v.confirmed }
func (v *Vulnerability) References() []string   { return slices.Clone(v.references) }
func (v *Vulnerability) DedupKey() string       { return v.dedupKey }
func (v *Vulnerability) Creator() string        { return v.creator }
func (v *Vulnerability) CreatedAt() time.Time   { return v.createdAt }
func (v *Vulnerability) UpdatedAt() time.Time   { return v.updatedAt }

// Web returns the web details, or nil for generic vulnerabilities.
func (v *Vulnerability) Web() *WebDetails {
	if v.web == nil {
		return nil
	}
	web := *v.web
	return &web
}

// IsWeb reports whether this is a web vulnerability.
func (v *Vulnerability) IsWeb() bool { return v.kind == KindWeb }

// Merge folds a repeated observation into the stored vulnerability:
//   - severity only escalates
//   - confirmed never flips back to false
//   - a closed vulnerability seen again is re-opened, unless the report itself says closed
//   - an unconfirmed open vulnerability reported closed is closed
//   - risk-accepted is kept as is
//   - empty text fields are filled, references are unioned
//
// It reports whether anything changed.
func (v *Vulnerability) Merge(in Attributes) bool {
	changed := false

	if in.Severity.IsValid() && in.Severity.Rank() > v.severity.Rank() {
		v.severity = in.Severity
		changed = true
	}
	if in.Confirmed && !v.confirmed {
		v.confirmed = true
		changed = true
	}

	switch {
	case v.status == StatusRiskAccepted:
	case v.status == StatusClosed && in.Status != StatusClosed:
		v.status = StatusReopened
		changed = true
	case v.status.IsOpen() && in.Status == StatusClosed && !v.confirmed:
		v.status = StatusClosed
		changed = true
	}

	changed = fill(&v.resolution, in.Resolution) || changed
	changed = fill(&v.data, in.Data) || changed
	if v.web != nil && in.Web != nil {
		changed = fill(&v.web.Path, in.Web.Path) || changed
		changed = fill(&v.web.Website, in.Web.Website) || changed
		changed = fill(&v.web.Request, in.Web.Request) || changed
		changed = fill(&v.web.Response, in.Web.Response) || changed
	}
	if v.addReferences(in.References) {
		changed = true
	}

	if changed {
		v.updatedAt = time.Now().UTC()
	}
	return changed
}

func (v *Vulnerability) addReferences(refs []string) bool {
	added := false
	for _, ref := range refs {
		ref = strings.TrimSpace(ref)
		if ref == "" || slices.Contains(v.references, ref) {
			continue
		}
		v.references = append(v.references, ref)
		added = true
	}
	return added
}

func (v *Vulnerability) refreshKey() {
	v.dedupKey = DedupKey(v.workspaceID, v.parent, v.name, v.description, v.web)
}

func fill(dst *string, val string) bool {
	val = strings.TrimSpace(val)
	if val == "" || *dst != "" {
		return false
	}
	*dst = val
	return true
}
