package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/scanmerge/internal/infra/memory"
	"github.com/openctemio/scanmerge/pkg/domain/command"
	"github.com/openctemio/scanmerge/pkg/domain/host"
	"github.com/openctemio/scanmerge/pkg/domain/shared"
	"github.com/openctemio/scanmerge/pkg/domain/store"
	"github.com/openctemio/scanmerge/pkg/domain/vulnerability"
	"github.com/openctemio/scanmerge/pkg/domain/workspace"
	"github.com/openctemio/scanmerge/pkg/inflate"
	"github.com/openctemio/scanmerge/pkg/logger"
)

// failingStore rejects every vulnerability insert to force a rollback.
type failingStore struct {
	*memory.Store
}

func (f failingStore) Transaction(ctx context.Context, fn func(ctx context.Context, tx store.Repositories) error) error {
	return f.Store.Transaction(ctx, func(ctx context.Context, tx store.Repositories) error {
		return fn(ctx, failingRepos{tx})
	})
}

type failingRepos struct {
	store.Repositories
}

func (r failingRepos) Vulnerabilities() vulnerability.Repository {
	return failingVulns{r.Repositories.Vulnerabilities()}
}

type failingVulns struct {
	vulnerability.Repository
}

func (failingVulns) Create(context.Context, *vulnerability.Vulnerability) error {
	return errors.New("disk full")
}

func newWorkspace(t *testing.T, st store.Store, name string) *workspace.Workspace {
	t.Helper()
	ws, err := workspace.NewWorkspace(name, "")
	require.NoError(t, err)
	require.NoError(t, st.Workspaces().Create(context.Background(), ws))
	return ws
}

func parseJSON(t *testing.T, payload string) *CanonicalBatch {
	t.Helper()
	batch, err := NewParser(DefaultRegistry(), inflate.DefaultLimits()).Parse(context.Background(), []byte(payload), "json", Identity{})
	require.NoError(t, err)
	return batch
}

func hostBatch(tool string, facts ...HostFact) *CanonicalBatch {
	return &CanonicalBatch{Command: CommandMeta{Tool: tool}, Hosts: facts}
}

func TestMergeEngine_ApplyCreatesEntitiesAndEdges(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	ws := newWorkspace(t, st, "acme")
	engine := NewMergeEngine(st, logger.NewNop())

	result, err := engine.Apply(ctx, parseJSON(t, jsonReport), ws)
	require.NoError(t, err)

	assert.Equal(t, KindCounts{Created: 2}, result.Hosts)
	assert.Equal(t, KindCounts{Created: 1}, result.Services)
	assert.Equal(t, KindCounts{Created: 2}, result.Vulnerabilities)
	assert.Equal(t, KindCounts{Created: 1}, result.Credentials)
	assert.Equal(t, KindCounts{Created: 1}, result.Notes)
	assert.Equal(t, 7, result.Edges)
	assert.Equal(t, 3, result.Skipped)
	assert.Zero(t, result.FailedFacts())

	cmd, err := st.Commands().GetByID(ctx, ws.ID(), result.CommandID)
	require.NoError(t, err)
	assert.Equal(t, "inventory-export", cmd.Tool)
	assert.Equal(t, "alice", cmd.User)
	assert.Equal(t, command.CommandStatusCompleted, cmd.Status)
	assert.NotNil(t, cmd.EndDate)

	objects, err := st.Commands().ListObjects(ctx, cmd.ID)
	require.NoError(t, err)
	require.Len(t, objects, 7)
	for _, obj := range objects {
		assert.True(t, obj.CreatedPersistent)
	}
}

func TestMergeEngine_ReapplyIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	ws := newWorkspace(t, st, "acme")
	engine := NewMergeEngine(st, logger.NewNop())

	_, err := engine.Apply(ctx, parseJSON(t, jsonReport), ws)
	require.NoError(t, err)
	second, err := engine.Apply(ctx, parseJSON(t, jsonReport), ws)
	require.NoError(t, err)

	assert.Equal(t, KindCounts{Unchanged: 2}, second.Hosts)
	assert.Equal(t, KindCounts{Unchanged: 1}, second.Services)
	assert.Equal(t, KindCounts{Unchanged: 2}, second.Vulnerabilities)
	assert.Equal(t, KindCounts{Unchanged: 1}, second.Credentials)
	assert.Equal(t, KindCounts{Unchanged: 1}, second.Notes)
	assert.Equal(t, 7, second.Edges, "the second command gets its own edges")

	counts := map[string]func(context.Context, shared.ID) (int64, error){
		"hosts":           st.Hosts().Count,
		"services":        st.Services().Count,
		"vulnerabilities": st.Vulnerabilities().Count,
		"credentials":     st.Credentials().Count,
		"commands":        st.Commands().Count,
		"edges":           st.Commands().CountObjects,
	}
	want := map[string]int64{
		"hosts": 2, "services": 1, "vulnerabilities": 2, "credentials": 1, "commands": 2, "edges": 14,
	}
	for name, count := range counts {
		n, err := count(ctx, ws.ID())
		require.NoError(t, err)
		assert.Equal(t, want[name], n, name)
	}

	h, err := st.Hosts().GetByIP(ctx, ws.ID(), "192.168.1.10")
	require.NoError(t, err)
	history, err := st.Commands().History(ctx, ws.ID(), command.ObjectHost, h.ID())
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, second.CommandID, history[0].CommandID)
	assert.False(t, history[0].CreatedPersistent)
	assert.True(t, history[1].CreatedPersistent)
}

func TestMergeEngine_ParentMustBeExactlyOne(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	ws := newWorkspace(t, st, "acme")
	engine := NewMergeEngine(st, logger.NewNop())

	zero := 0
	batch := hostBatch("manual", HostFact{IP: "10.0.0.1"})
	batch.AddService(ServiceFact{Host: 0, Port: 22, Protocol: host.ProtocolTCP})
	batch.AddVulnerability(VulnerabilityFact{Parent: ParentRef{Host: &zero, Service: &zero}, Name: "both"})
	batch.AddVulnerability(VulnerabilityFact{Parent: ParentRef{}, Name: "neither"})
	batch.AddVulnerability(VulnerabilityFact{Parent: ServiceRef(0), Name: "fine"})
	batch.AddCredential(CredentialFact{Parent: ParentRef{}, Username: "root"})

	result, err := engine.Apply(ctx, batch, ws)
	require.NoError(t, err)

	assert.Equal(t, KindCounts{Created: 1, Failed: 2}, result.Vulnerabilities)
	assert.Equal(t, KindCounts{Failed: 1}, result.Credentials)
	require.Len(t, result.Errors, 3)
	for _, me := range result.Errors {
		assert.True(t, IsMergeError(me, MergeErrInvalidParent))
		assert.ErrorIs(t, me, shared.ErrInvalidParent)
	}

	n, err := st.Vulnerabilities().Count(ctx, ws.ID())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMergeEngine_UnresolvedIndexIsInvalidFact(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	ws := newWorkspace(t, st, "acme")
	engine := NewMergeEngine(st, logger.NewNop())

	batch := hostBatch("manual", HostFact{IP: "10.0.0.1"})
	batch.AddService(ServiceFact{Host: 5, Port: 80})
	batch.AddVulnerability(VulnerabilityFact{Parent: HostRef(3), Name: "orphan"})

	result, err := engine.Apply(ctx, batch, ws)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Services.Failed)
	assert.Equal(t, 1, result.Vulnerabilities.Failed)
	for _, me := range result.Errors {
		assert.True(t, IsMergeError(me, MergeErrInvalidFact))
	}
}

func TestMergeEngine_FillDoesNotClobber(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	ws := newWorkspace(t, st, "acme")
	engine := NewMergeEngine(st, logger.NewNop())

	steps := []HostFact{
		{IP: "10.0.0.1", Attrs: host.Attributes{OS: "Linux"}},
		{IP: "10.0.0.1", Attrs: host.Attributes{MAC: "AA:BB:CC:DD:EE:FF", Hostnames: []string{"db01"}}},
		{IP: "10.0.0.1", Attrs: host.Attributes{OS: "Windows", Hostnames: []string{"DB01", "db01.corp"}}},
	}
	var last *MergeResult
	for _, f := range steps {
		var err error
		last, err = engine.Apply(ctx, hostBatch("manual", f), ws)
		require.NoError(t, err)
	}
	assert.Equal(t, KindCounts{Updated: 1}, last.Hosts)

	h, err := st.Hosts().GetByIP(ctx, ws.ID(), "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "Linux", h.OS())
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", h.MAC())
	assert.Equal(t, []string{"db01", "db01.corp"}, h.Hostnames())
}

func TestMergeEngine_VulnerabilityMerge(t *testing.T) {
	ctx := context.Background()

	vulnBatch := func(attrs vulnerability.Attributes) *CanonicalBatch {
		b := hostBatch("manual", HostFact{IP: "10.0.0.1"})
		b.AddVulnerability(VulnerabilityFact{Parent: HostRef(0), Name: "Weak TLS", Attrs: attrs})
		return b
	}

	tests := []struct {
		name         string
		observations []vulnerability.Attributes
		wantSeverity vulnerability.Severity
		wantStatus   vulnerability.Status
	}{
		{
			name: "severity only escalates",
			observations: []vulnerability.Attributes{
				{Severity: vulnerability.SeverityLow},
				{Severity: vulnerability.SeverityHigh},
				{Severity: vulnerability.SeverityLow},
			},
			wantSeverity: vulnerability.SeverityHigh,
			wantStatus:   vulnerability.StatusOpen,
		},
		{
			name: "closed vulnerability seen again is re-opened",
			observations: []vulnerability.Attributes{
				{Severity: vulnerability.SeverityMedium, Status: vulnerability.StatusClosed},
				{Severity: vulnerability.SeverityMedium},
			},
			wantSeverity: vulnerability.SeverityMedium,
			wantStatus:   vulnerability.StatusReopened,
		},
		{
			name: "risk accepted is kept",
			observations: []vulnerability.Attributes{
				{Severity: vulnerability.SeverityLow, Status: vulnerability.StatusRiskAccepted},
				{Severity: vulnerability.SeverityCritical, Status: vulnerability.StatusOpen},
			},
			wantSeverity: vulnerability.SeverityCritical,
			wantStatus:   vulnerability.StatusRiskAccepted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := memory.New()
			ws := newWorkspace(t, st, "acme")
			engine := NewMergeEngine(st, logger.NewNop())

			for _, attrs := range tt.observations {
				_, err := engine.Apply(ctx, vulnBatch(attrs), ws)
				require.NoError(t, err)
			}

			vulns, err := st.Vulnerabilities().Find(ctx, ws.ID(), nil)
			require.NoError(t, err)
			require.Len(t, vulns, 1)
			assert.Equal(t, tt.wantSeverity, vulns[0].Severity())
			assert.Equal(t, tt.wantStatus, vulns[0].Status())
		})
	}
}

func TestMergeEngine_InvalidCommandRejectsBatch(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	ws := newWorkspace(t, st, "acme")
	engine := NewMergeEngine(st, logger.NewNop())

	_, err := engine.Apply(ctx, hostBatch("", HostFact{IP: "10.0.0.1"}), ws)
	require.Error(t, err)
	assert.True(t, IsMergeError(err, MergeErrInvalidFact))

	n, err := st.Hosts().Count(ctx, ws.ID())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMergeEngine_StoreFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	ws := newWorkspace(t, st, "acme")
	engine := NewMergeEngine(failingStore{st}, logger.NewNop())

	_, err := engine.Apply(ctx, parseJSON(t, jsonReport), ws)
	require.Error(t, err)
	assert.True(t, IsMergeError(err, MergeErrTransactionFailed))

	for name, count := range map[string]func(context.Context, shared.ID) (int64, error){
		"hosts":    st.Hosts().Count,
		"services": st.Services().Count,
		"commands": st.Commands().Count,
		"edges":    st.Commands().CountObjects,
	} {
		n, err := count(ctx, ws.ID())
		require.NoError(t, err)
		assert.Zero(t, n, name)
	}
}

func TestMergeEngine_NmapEndToEnd(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	ws := newWorkspace(t, st, "acme")
	engine := NewMergeEngine(st, logger.NewNop())

	batch, err := NewParser(DefaultRegistry(), inflate.DefaultLimits()).Parse(ctx, []byte(nmapReport), "", Identity{})
	require.NoError(t, err)
	result, err := engine.Apply(ctx, batch, ws)
	require.NoError(t, err)

	h, err := st.Hosts().GetByIP(ctx, ws.ID(), "10.0.0.5")
	require.NoError(t, err)
	n, err := st.Vulnerabilities().CountByHost(ctx, ws.ID(), h.ID())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	services, err := st.Services().ListByHost(ctx, h.ID())
	require.NoError(t, err)
	require.Len(t, services, 2)
	assert.Equal(t, 22, services[0].Port())
	assert.Equal(t, 80, services[1].Port())
	assert.Equal(t, "system", h.Creator())
	assert.Equal(t, 1, result.Skipped)
}
