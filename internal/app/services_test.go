package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/scanmerge/internal/app/searcher"
	"github.com/openctemio/scanmerge/internal/infra/memory"
	"github.com/openctemio/scanmerge/pkg/domain/command"
	"github.com/openctemio/scanmerge/pkg/domain/host"
	"github.com/openctemio/scanmerge/pkg/domain/rule"
	"github.com/openctemio/scanmerge/pkg/domain/shared"
	"github.com/openctemio/scanmerge/pkg/domain/vulnerability"
	"github.com/openctemio/scanmerge/pkg/domain/workspace"
	"github.com/openctemio/scanmerge/pkg/logger"
)

func createWorkspace(t *testing.T, st *memory.Store, name string) *workspace.Workspace {
	t.Helper()
	ws, err := NewWorkspaceService(st.Workspaces(), logger.NewNop()).Create(context.Background(), CreateWorkspaceInput{Name: name})
	require.NoError(t, err)
	return ws
}

// =============================================================================
// WorkspaceService
// =============================================================================

func TestWorkspaceService_Create(t *testing.T) {
	ctx := context.Background()
	svc := NewWorkspaceService(memory.New().Workspaces(), logger.NewNop())

	ws, err := svc.Create(ctx, CreateWorkspaceInput{Name: "acme", Description: "pentest"})
	require.NoError(t, err)
	assert.True(t, ws.IsActive())
	assert.Equal(t, "pentest", ws.Description())

	_, err = svc.Create(ctx, CreateWorkspaceInput{Name: "acme"})
	assert.ErrorIs(t, err, shared.ErrAlreadyExists)

	for _, bad := range []string{"", "Acme", "-acme", "with space"} {
		_, err = svc.Create(ctx, CreateWorkspaceInput{Name: bad})
		assert.ErrorIs(t, err, shared.ErrValidation, bad)
	}
}

func TestWorkspaceService_SetActiveAndList(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	svc := NewWorkspaceService(st.Workspaces(), logger.NewNop())
	createWorkspace(t, st, "acme")
	createWorkspace(t, st, "globex")

	ws, err := svc.SetActive(ctx, "acme", false)
	require.NoError(t, err)
	assert.False(t, ws.IsActive())

	stored, err := svc.Get(ctx, "acme")
	require.NoError(t, err)
	assert.ErrorIs(t, stored.EnsureActive(), workspace.ErrInactive)

	ws, err = svc.SetActive(ctx, "acme", true)
	require.NoError(t, err)
	assert.True(t, ws.IsActive())

	_, err = svc.SetActive(ctx, "initech", false)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	all, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

// =============================================================================
// HistoryService
// =============================================================================

func TestHistoryService_ToolsHistory(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	ws := createWorkspace(t, st, "acme")

	h, err := host.NewHost(ws.ID(), "10.0.0.1", "alice", host.Attributes{})
	require.NoError(t, err)
	require.NoError(t, st.Hosts().Create(ctx, h))
	svcEntity, err := host.NewService(ws.ID(), h.ID(), 22, host.ProtocolTCP, "alice", host.ServiceAttributes{})
	require.NoError(t, err)
	require.NoError(t, st.Services().Create(ctx, svcEntity))

	for i, tool := range []string{"nmap", "nessus", "burp"} {
		cmd, err := command.NewCommand(ws.ID(), tool, command.ImportSourceReport, "alice")
		require.NoError(t, err)
		require.NoError(t, st.Commands().Create(ctx, cmd))
		obj, err := command.NewObject(cmd, command.ObjectHost, h.ID(), i == 0)
		require.NoError(t, err)
		_, err = st.Commands().AddObject(ctx, obj)
		require.NoError(t, err)
	}

	history := NewHistoryService(st)
	entries, err := history.ToolsHistory(ctx, "acme", command.ObjectHost, h.ID().String())
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "burp", entries[0].Tool, "newest edge first")
	assert.Equal(t, "nmap", entries[2].Tool)
	assert.True(t, entries[2].CreatedPersistent)
	assert.False(t, entries[0].CreatedPersistent)
	assert.Equal(t, "alice", entries[0].User)

	entries, err = history.ToolsHistory(ctx, "acme", command.ObjectService, svcEntity.ID().String())
	require.NoError(t, err)
	assert.Empty(t, entries)

	tests := []struct {
		name    string
		ws      string
		kind    command.ObjectType
		id      string
		wantErr error
	}{
		{name: "unknown workspace", ws: "globex", kind: command.ObjectHost, id: h.ID().String(), wantErr: shared.ErrNotFound},
		{name: "bad id", ws: "acme", kind: command.ObjectHost, id: "nope", wantErr: shared.ErrValidation},
		{name: "unknown host", ws: "acme", kind: command.ObjectHost, id: shared.NewID().String(), wantErr: shared.ErrNotFound},
		{name: "service id as host", ws: "acme", kind: command.ObjectHost, id: svcEntity.ID().String(), wantErr: shared.ErrNotFound},
		{name: "unsupported kind", ws: "acme", kind: command.ObjectVulnerability, id: h.ID().String(), wantErr: shared.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := history.ToolsHistory(ctx, tt.ws, tt.kind, tt.id)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestHistoryService_HostVulnCount(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	ws := createWorkspace(t, st, "acme")

	h, err := host.NewHost(ws.ID(), "10.0.0.1", "alice", host.Attributes{})
	require.NoError(t, err)
	require.NoError(t, st.Hosts().Create(ctx, h))
	svcEntity, err := host.NewService(ws.ID(), h.ID(), 443, host.ProtocolTCP, "alice", host.ServiceAttributes{})
	require.NoError(t, err)
	require.NoError(t, st.Services().Create(ctx, svcEntity))

	for _, p := range []shared.Parent{shared.HostParent(h.ID()), shared.ServiceParent(svcEntity.ID())} {
		v, err := vulnerability.NewVulnerability(ws.ID(), p, "Weak TLS", "alice", vulnerability.Attributes{})
		require.NoError(t, err)
		require.NoError(t, st.Vulnerabilities().Create(ctx, v))
	}

	count, err := NewHistoryService(st).HostVulnCount(ctx, "acme", h.ID().String())
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	_, err = NewHistoryService(st).HostVulnCount(ctx, "acme", shared.NewID().String())
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

// =============================================================================
// RuleService
// =============================================================================

func newRuleService(st *memory.Store) *RuleService {
	return NewRuleService(st, searcher.NewSearcher(st, logger.NewNop()), logger.NewNop())
}

func TestRuleService_CRUD(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	createWorkspace(t, st, "acme")
	svc := newRuleService(st)

	first, err := svc.Create(ctx, "acme", rule.Definition{
		Name: "bump", Model: "Vulnerability", Query: "severity=low",
		Actions: []string{"--UPDATE:severity=medium", "--ALERT:triage"},
	})
	require.NoError(t, err)
	second, err := svc.Create(ctx, "acme", rule.Definition{
		Model: "VulnerabilityWeb", Query: "method=get", Actions: []string{"--DELETE:"},
	})
	require.NoError(t, err)

	rules, err := svc.List(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, first.ID(), rules[0].ID())
	assert.Equal(t, []string{"--UPDATE:severity=medium", "--ALERT:triage"}, rules[0].Tokens(), "action order is kept")

	disabled, err := svc.SetDisabled(ctx, "acme", second.ID().String(), true)
	require.NoError(t, err)
	assert.True(t, disabled.Disabled())

	require.NoError(t, svc.Delete(ctx, "acme", first.ID().String()))
	assert.ErrorIs(t, svc.Delete(ctx, "acme", first.ID().String()), rule.ErrNotFound)

	rules, err = svc.List(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.True(t, rules[0].Disabled())
}

func TestRuleService_CreateValidation(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	createWorkspace(t, st, "acme")
	svc := newRuleService(st)

	tests := []struct {
		name    string
		ws      string
		def     rule.Definition
		wantErr error
	}{
		{name: "missing model", ws: "acme", def: rule.Definition{Query: "severity=low", Actions: []string{"--DELETE:"}}, wantErr: shared.ErrValidation},
		{name: "unknown model", ws: "acme", def: rule.Definition{Model: "Host", Query: "ip=1", Actions: []string{"--DELETE:"}}, wantErr: shared.ErrValidation},
		{name: "no actions", ws: "acme", def: rule.Definition{Model: "Vulnerability", Query: "severity=low"}, wantErr: shared.ErrValidation},
		{name: "bad action", ws: "acme", def: rule.Definition{Model: "Vulnerability", Query: "severity=low", Actions: []string{"--EXEC:x"}}, wantErr: rule.ErrInvalidAction},
		{name: "bad query", ws: "acme", def: rule.Definition{Model: "Vulnerability", Query: "severity", Actions: []string{"--DELETE:"}}, wantErr: rule.ErrInvalidQuery},
		{name: "unknown workspace", ws: "globex", def: rule.Definition{Model: "Vulnerability", Query: "severity=low", Actions: []string{"--DELETE:"}}, wantErr: shared.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tt.ws, tt.def)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRuleService_RunStoredAndAdHoc(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	ws := createWorkspace(t, st, "acme")
	svc := newRuleService(st)

	h, err := host.NewHost(ws.ID(), "10.0.0.1", "alice", host.Attributes{})
	require.NoError(t, err)
	require.NoError(t, st.Hosts().Create(ctx, h))
	v, err := vulnerability.NewVulnerability(ws.ID(), shared.HostParent(h.ID()), "V1", "alice", vulnerability.Attributes{Severity: vulnerability.SeverityLow})
	require.NoError(t, err)
	require.NoError(t, st.Vulnerabilities().Create(ctx, v))

	_, err = svc.Create(ctx, "acme", rule.Definition{Model: "Vulnerability", Query: "severity=low", Actions: []string{"--UPDATE:severity=medium"}})
	require.NoError(t, err)

	report, err := svc.RunStored(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Totals.Mutated)

	report, err = svc.Run(ctx, "acme", []rule.Definition{
		{Model: "Vulnerability", Query: "severity=medium", Actions: []string{"--UPDATE:confirmed=true"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Totals.Mutated)

	got, err := st.Vulnerabilities().GetByID(ctx, ws.ID(), v.ID())
	require.NoError(t, err)
	assert.Equal(t, vulnerability.SeverityMedium, got.Severity())
	assert.True(t, got.Confirmed())

	stored, err := svc.List(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, stored, 1, "ad hoc rules are not stored")

	_, err = svc.RunStored(ctx, "globex")
	assert.ErrorIs(t, err, shared.ErrNotFound)
	_, err = svc.Run(ctx, "globex", []rule.Definition{{Model: "Vulnerability", Query: "severity=low", Actions: []string{"--DELETE:"}}})
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestRuleService_RunSkipsBadDefinitions(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	ws := createWorkspace(t, st, "acme")
	svc := newRuleService(st)

	h, err := host.NewHost(ws.ID(), "10.0.0.1", "alice", host.Attributes{})
	require.NoError(t, err)
	require.NoError(t, st.Hosts().Create(ctx, h))
	v, err := vulnerability.NewVulnerability(ws.ID(), shared.HostParent(h.ID()), "V1", "alice", vulnerability.Attributes{Severity: vulnerability.SeverityLow})
	require.NoError(t, err)
	require.NoError(t, st.Vulnerabilities().Create(ctx, v))

	report, err := svc.Run(ctx, "acme", []rule.Definition{
		{Name: "no-object", Model: "Vulnerability", Actions: []string{"--DELETE:"}},
		{Name: "off", Model: "Host", Query: "ip=1", Actions: []string{"--FROB:x"}, Disabled: true},
		{Name: "bump", Model: "Vulnerability", Query: "severity=low", Actions: []string{"--UPDATE:severity=medium"}},
	})
	require.NoError(t, err)
	require.Len(t, report.Rules, 2, "disabled definitions are not counted")
	assert.True(t, report.Rules[0].Skipped)
	assert.Equal(t, "bump", report.Rules[1].Label)
	assert.Equal(t, 1, report.Totals.Mutated)
	require.Len(t, report.Errors, 1)
	assert.ErrorIs(t, report.Errors[0], rule.ErrInvalidQuery)

	got, err := st.Vulnerabilities().GetByID(ctx, ws.ID(), v.ID())
	require.NoError(t, err)
	assert.Equal(t, vulnerability.SeverityMedium, got.Severity())
}
