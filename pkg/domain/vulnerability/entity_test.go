package vulnerability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/scanmerge/pkg/domain/shared"
)

func newVuln(t *testing.T, attrs Attributes) *Vulnerability {
	t.Helper()
	v, err := NewVulnerability(shared.NewID(), shared.HostParent(shared.NewID()), "Weak TLS", "alice", attrs)
	require.NoError(t, err)
	return v
}

// =============================================================================
// Construction
// =============================================================================

func TestNewVulnerability_Defaults(t *testing.T) {
	v := newVuln(t, Attributes{References: []string{"CVE-1", " CVE-1 ", ""}})

	assert.Equal(t, SeverityUnclassified, v.Severity())
	assert.Equal(t, StatusOpen, v.Status())
	assert.Equal(t, KindGeneric, v.Kind())
	assert.Equal(t, []string{"CVE-1"}, v.References())
	assert.NotEmpty(t, v.DedupKey())
	assert.Nil(t, v.Web())
}

func TestNewVulnerability_Validation(t *testing.T) {
	ws := shared.NewID()
	hostID := shared.NewID()

	tests := []struct {
		name    string
		ws      shared.ID
		parent  shared.Parent
		vulnNm  string
		attrs   Attributes
		wantErr error
	}{
		{name: "missing workspace", parent: shared.HostParent(hostID), vulnNm: "x", wantErr: shared.ErrValidation},
		{name: "no parent", ws: ws, vulnNm: "x", wantErr: shared.ErrInvalidParent},
		{
			name: "both parents", ws: ws, vulnNm: "x",
			parent:  shared.Parent{HostID: hostID.Ptr(), ServiceID: shared.NewID().Ptr()},
			wantErr: shared.ErrInvalidParent,
		},
		{name: "blank name", ws: ws, parent: shared.HostParent(hostID), vulnNm: "  ", wantErr: shared.ErrValidation},
		{
			name: "bad severity", ws: ws, parent: shared.HostParent(hostID), vulnNm: "x",
			attrs: Attributes{Severity: Severity("apocalyptic")}, wantErr: shared.ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewVulnerability(tt.ws, tt.parent, tt.vulnNm, "alice", tt.attrs)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestNewVulnerability_Web(t *testing.T) {
	v, err := NewVulnerability(shared.NewID(), shared.ServiceParent(shared.NewID()), "SQLi", "alice", Attributes{
		Web: &WebDetails{Method: " post ", ParameterName: "id", Path: "/login"},
	})
	require.NoError(t, err)
	assert.True(t, v.IsWeb())
	assert.Equal(t, "POST", v.Web().Method)

	// Web returns a copy.
	v.Web().Path = "/changed"
	assert.Equal(t, "/login", v.Web().Path)
}

// =============================================================================
// Dedup
// =============================================================================

func TestSignature(t *testing.T) {
	assert.Equal(t, Signature("Weak   TLS\tCipher"), Signature("weak tls cipher"))
	assert.Equal(t, Signature("ﬁle upload"), Signature("FILE UPLOAD"), "compatibility forms fold together")
	assert.NotEqual(t, Signature("weak tls"), Signature("weak ssl"))
}

func TestDedupKey(t *testing.T) {
	ws := shared.NewID()
	hostID := shared.NewID()
	svcID := shared.NewID()

	base := DedupKey(ws, shared.HostParent(hostID), "Weak TLS", "Old ciphers", nil)

	assert.Equal(t, base, DedupKey(ws, shared.HostParent(hostID), "weak  tls", "OLD CIPHERS", nil))
	assert.NotEqual(t, base, DedupKey(ws, shared.ServiceParent(svcID), "Weak TLS", "Old ciphers", nil))
	assert.NotEqual(t, base, DedupKey(shared.NewID(), shared.HostParent(hostID), "Weak TLS", "Old ciphers", nil))
	assert.NotEqual(t, base, DedupKey(ws, shared.HostParent(hostID), "Weak TLS", "Other", nil))

	get := DedupKey(ws, shared.HostParent(hostID), "XSS", "", &WebDetails{Method: "get", ParameterName: "q"})
	assert.Equal(t, get, DedupKey(ws, shared.HostParent(hostID), "XSS", "", &WebDetails{Method: "GET", ParameterName: "q", Path: "/other"}))
	assert.NotEqual(t, get, DedupKey(ws, shared.HostParent(hostID), "XSS", "", &WebDetails{Method: "POST", ParameterName: "q"}))
}

// =============================================================================
// Merge
// =============================================================================

func TestVulnerability_Merge(t *testing.T) {
	tests := []struct {
		name        string
		initial     Attributes
		incoming    Attributes
		wantChanged bool
		wantSev     Severity
		wantStatus  Status
	}{
		{
			name:        "same observation",
			initial:     Attributes{Severity: SeverityLow},
			incoming:    Attributes{Severity: SeverityLow},
			wantChanged: false, wantSev: SeverityLow, wantStatus: StatusOpen,
		},
		{
			name:        "severity escalates",
			initial:     Attributes{Severity: SeverityLow},
			incoming:    Attributes{Severity: SeverityCritical},
			wantChanged: true, wantSev: SeverityCritical, wantStatus: StatusOpen,
		},
		{
			name:        "severity never downgrades",
			initial:     Attributes{Severity: SeverityHigh},
			incoming:    Attributes{Severity: SeverityInformational},
			wantChanged: false, wantSev: SeverityHigh, wantStatus: StatusOpen,
		},
		{
			name:        "closed is re-opened",
			initial:     Attributes{Severity: SeverityMedium, Status: StatusClosed},
			incoming:    Attributes{Severity: SeverityMedium},
			wantChanged: true, wantSev: SeverityMedium, wantStatus: StatusReopened,
		},
		{
			name:        "closed reported closed stays closed",
			initial:     Attributes{Severity: SeverityMedium, Status: StatusClosed},
			incoming:    Attributes{Severity: SeverityMedium, Status: StatusClosed},
			wantChanged: false, wantSev: SeverityMedium, wantStatus: StatusClosed,
		},
		{
			name:        "unconfirmed open reported closed is closed",
			initial:     Attributes{Severity: SeverityLow},
			incoming:    Attributes{Severity: SeverityLow, Status: StatusClosed},
			wantChanged: true, wantSev: SeverityLow, wantStatus: StatusClosed,
		},
		{
			name:        "confirmed open ignores closed report",
			initial:     Attributes{Severity: SeverityLow, Confirmed: true},
			incoming:    Attributes{Severity: SeverityLow, Status: StatusClosed},
			wantChanged: false, wantSev: SeverityLow, wantStatus: StatusOpen,
		},
		{
			name:        "risk accepted is kept",
			initial:     Attributes{Severity: SeverityLow, Status: StatusRiskAccepted},
			incoming:    Attributes{Severity: SeverityLow, Status: StatusOpen},
			wantChanged: false, wantSev: SeverityLow, wantStatus: StatusRiskAccepted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newVuln(t, tt.initial)
			assert.Equal(t, tt.wantChanged, v.Merge(tt.incoming))
			assert.Equal(t, tt.wantSev, v.Severity())
			assert.Equal(t, tt.wantStatus, v.Status())
		})
	}
}

func TestVulnerability_MergeFillsAndUnions(t *testing.T) {
	v := newVuln(t, Attributes{Resolution: "patch", References: []string{"CVE-1"}})

	assert.True(t, v.Merge(Attributes{Resolution: "ignore", Data: "evidence", References: []string{"CVE-1", "CVE-2"}, Confirmed: true}))
	assert.Equal(t, "patch", v.Resolution())
	assert.Equal(t, "evidence", v.Data())
	assert.Equal(t, []string{"CVE-1", "CVE-2"}, v.References())
	assert.True(t, v.Confirmed())

	assert.False(t, v.Merge(Attributes{Confirmed: false}), "confirmed never flips back")
	assert.True(t, v.Confirmed())
}

// =============================================================================
// Fields
// =============================================================================

func TestLookupField(t *testing.T) {
	f, err := LookupField(" Severity ")
	require.NoError(t, err)
	assert.Equal(t, "severity", f.Name)

	canonical, err := f.Normalize("med")
	require.NoError(t, err)
	assert.Equal(t, string(SeverityMedium), canonical)

	_, err = f.Normalize("severe")
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = LookupField("cvss")
	assert.ErrorIs(t, err, ErrUnknownField)

	assert.Contains(t, FieldNames(), "parameter_name")
}

func TestVulnerability_Matches(t *testing.T) {
	v := newVuln(t, Attributes{Severity: SeverityLow})

	sev, _ := LookupField("severity")
	name, _ := LookupField("name")
	status, _ := LookupField("status")

	assert.True(t, v.Matches(nil))
	assert.True(t, v.Matches([]Condition{{Field: sev, Value: "low"}, {Field: name, Value: "Weak TLS"}}))
	assert.False(t, v.Matches([]Condition{{Field: sev, Value: "low"}, {Field: status, Value: "closed"}}))
}

func TestVulnerability_SetField(t *testing.T) {
	v := newVuln(t, Attributes{Severity: SeverityLow})
	keyBefore := v.DedupKey()

	require.NoError(t, v.SetField("severity", "MED"))
	assert.Equal(t, SeverityMedium, v.Severity())

	require.NoError(t, v.SetField("confirmed", "1"))
	assert.True(t, v.Confirmed())

	require.NoError(t, v.SetField("description", "new text"))
	assert.NotEqual(t, keyBefore, v.DedupKey(), "identity fields refresh the dedup key")

	assert.ErrorIs(t, v.SetField("type", "vulnerability_web"), ErrReadOnlyField)
	assert.ErrorIs(t, v.SetField("path", "/x"), ErrNotWeb)
	assert.ErrorIs(t, v.SetField("nope", "x"), ErrUnknownField)
	assert.ErrorIs(t, v.SetField("name", " "), shared.ErrValidation)
	assert.ErrorIs(t, v.SetField("status", "bogus"), shared.ErrValidation)

	got, err := v.FieldValue("severity")
	require.NoError(t, err)
	assert.Equal(t, "medium", got)
}

func TestVulnerability_SetFieldEmptyRequired(t *testing.T) {
	v := newVuln(t, Attributes{Severity: SeverityHigh, Status: StatusClosed})

	for _, name := range []string{"severity", "status", "confirmed", "name"} {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, v.SetField(name, ""), shared.ErrValidation)
		})
	}
	assert.Equal(t, SeverityHigh, v.Severity())
	assert.Equal(t, StatusClosed, v.Status())

	require.NoError(t, v.SetField("description", ""), "optional fields can be cleared")
}

func TestField_NormalizeValue(t *testing.T) {
	sev, err := LookupField("severity")
	require.NoError(t, err)

	got, err := sev.Normalize("")
	require.NoError(t, err)
	assert.Equal(t, string(SeverityUnclassified), got, "empty input still means unset when reading")

	_, err = sev.NormalizeValue(" ")
	assert.ErrorIs(t, err, shared.ErrValidation)

	got, err = sev.NormalizeValue("crit")
	require.NoError(t, err)
	assert.Equal(t, string(SeverityCritical), got)

	creator, err := LookupField("creator")
	require.NoError(t, err)
	_, err = creator.NormalizeValue("bob")
	assert.ErrorIs(t, err, ErrReadOnlyField)
}

func TestParseSeverity_Aliases(t *testing.T) {
	tests := map[string]Severity{
		"crit":     SeverityCritical,
		"HIGH":     SeverityHigh,
		"med":      SeverityMedium,
		"info":     SeverityInformational,
		"":         SeverityUnclassified,
		"unknown":  SeverityUnclassified,
		"moderate": SeverityMedium,
	}
	for in, want := range tests {
		got, err := ParseSeverity(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	assert.Less(t, SeverityLow.Rank(), SeverityHigh.Rank())
}
