package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/scanmerge/internal/app"
	"github.com/openctemio/scanmerge/internal/app/ingest"
	"github.com/openctemio/scanmerge/internal/app/searcher"
	"github.com/openctemio/scanmerge/internal/infra/http/middleware"
	"github.com/openctemio/scanmerge/internal/infra/memory"
	"github.com/openctemio/scanmerge/pkg/apierror"
	"github.com/openctemio/scanmerge/pkg/domain/host"
	"github.com/openctemio/scanmerge/pkg/domain/shared"
	"github.com/openctemio/scanmerge/pkg/domain/vulnerability"
	"github.com/openctemio/scanmerge/pkg/domain/workspace"
	"github.com/openctemio/scanmerge/pkg/inflate"
	"github.com/openctemio/scanmerge/pkg/logger"
)

const nmapReport = `<?xml version="1.0"?>
<nmaprun scanner="nmap" args="nmap -sV 10.0.0.1">
  <host><status state="up"/><address addr="10.0.0.1" addrtype="ipv4"/></host>
</nmaprun>`

type testEnv struct {
	ctx    context.Context
	st     *memory.Store
	ws     *workspace.Workspace
	ingest *ingest.Service
	mux    http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	log := logger.NewNop()
	st := memory.New()

	ws, err := app.NewWorkspaceService(st.Workspaces(), log).Create(ctx, app.CreateWorkspaceInput{Name: "acme"})
	require.NoError(t, err)

	// Workers are never started: accepted jobs stay queued.
	svc := ingest.NewService(
		ingest.Config{Shards: 1, QueueSize: 1, EnqueueTimeout: 20 * time.Millisecond},
		ingest.NewParser(ingest.DefaultRegistry(), inflate.DefaultLimits()),
		ingest.NewMergeEngine(st, log),
		st.Workspaces(),
		log,
	)

	upload := NewUploadHandler(svc, log)
	history := NewHistoryHandler(app.NewHistoryService(st), log)
	rules := NewRuleHandler(app.NewRuleService(st, searcher.NewSearcher(st, log), log), log)

	r := chi.NewRouter()
	r.Use(middleware.Identity())
	r.Route("/api/v1/ws/{workspace}", func(r chi.Router) {
		r.Post("/upload_report", upload.Upload)
		r.Get("/hosts/{id}/tools_history", history.HostToolsHistory)
		r.Get("/services/{id}/tools_history", history.ServiceToolsHistory)
		r.Get("/hosts/{id}/vulns/count", history.HostVulnCount)
		r.Post("/rules/run", rules.Run)
		r.Get("/rules", rules.List)
		r.Post("/rules", rules.Create)
		r.Patch("/rules/{id}", rules.Update)
		r.Delete("/rules/{id}", rules.Delete)
	})

	return &testEnv{ctx: ctx, st: st, ws: ws, ingest: svc, mux: r}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) host(t *testing.T, ip string) *host.Host {
	t.Helper()
	h, err := host.NewHost(e.ws.ID(), ip, "alice", host.Attributes{})
	require.NoError(t, err)
	require.NoError(t, e.st.Hosts().Create(e.ctx, h))
	return h
}

func multipartUpload(t *testing.T, path string, fields map[string]string, file []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if file != nil {
		fw, err := mw.CreateFormFile("file", "scan.xml")
		require.NoError(t, err)
		_, err = fw.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// =============================================================================
// Upload
// =============================================================================

func TestUpload_Multipart(t *testing.T) {
	env := newTestEnv(t)

	req := multipartUpload(t, "/api/v1/ws/acme/upload_report", map[string]string{"tool": "nmap"}, []byte(nmapReport))
	req.Header.Set(middleware.UserIDHeader, "alice")
	rec := env.do(req)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	resp := decode[UploadResponse](t, rec)
	assert.Equal(t, "acme", resp.Workspace)
	assert.Equal(t, "queued", resp.Status)
	_, err := shared.IDFromString(resp.JobID)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), env.ingest.Stats().Accepted)
}

func TestUpload_RawBody(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(httptest.NewRequest(http.MethodPost, "/api/v1/ws/acme/upload_report?tool=nmap", strings.NewReader(nmapReport)))
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestUpload_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		req    func(t *testing.T, env *testEnv) *http.Request
		status int
		code   apierror.Code
	}{
		{
			name: "multipart without file",
			req: func(t *testing.T, _ *testEnv) *http.Request {
				return multipartUpload(t, "/api/v1/ws/acme/upload_report", map[string]string{"tool": "nmap"}, nil)
			},
			status: http.StatusBadRequest,
		},
		{
			name: "empty body",
			req: func(*testing.T, *testEnv) *http.Request {
				return httptest.NewRequest(http.MethodPost, "/api/v1/ws/acme/upload_report", nil)
			},
			status: http.StatusBadRequest,
		},
		{
			name: "bad import source",
			req: func(*testing.T, *testEnv) *http.Request {
				return httptest.NewRequest(http.MethodPost, "/api/v1/ws/acme/upload_report?import_source=carrier-pigeon", strings.NewReader(nmapReport))
			},
			status: http.StatusBadRequest,
		},
		{
			name: "unknown workspace",
			req: func(*testing.T, *testEnv) *http.Request {
				return httptest.NewRequest(http.MethodPost, "/api/v1/ws/globex/upload_report", strings.NewReader(nmapReport))
			},
			status: http.StatusNotFound,
		},
		{
			name: "inactive workspace",
			req: func(t *testing.T, env *testEnv) *http.Request {
				env.ws.Deactivate()
				require.NoError(t, env.st.Workspaces().Update(env.ctx, env.ws))
				return httptest.NewRequest(http.MethodPost, "/api/v1/ws/acme/upload_report", strings.NewReader(nmapReport))
			},
			status: http.StatusNotFound,
			code:   apierror.CodeWorkspaceInactive,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			rec := env.do(tt.req(t, env))
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.code != "" {
				assert.Equal(t, tt.code, decode[apierror.Response](t, rec).Code)
			}
			assert.Zero(t, env.ingest.Stats().Accepted)
		})
	}
}

func TestUpload_QueueFull(t *testing.T) {
	env := newTestEnv(t)

	first := env.do(httptest.NewRequest(http.MethodPost, "/api/v1/ws/acme/upload_report", strings.NewReader(nmapReport)))
	require.Equal(t, http.StatusAccepted, first.Code)

	second := env.do(httptest.NewRequest(http.MethodPost, "/api/v1/ws/acme/upload_report", strings.NewReader(nmapReport)))
	assert.Equal(t, http.StatusServiceUnavailable, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
}

// =============================================================================
// History
// =============================================================================

func TestToolsHistory(t *testing.T) {
	env := newTestEnv(t)
	h := env.host(t, "10.0.0.1")

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/v1/ws/acme/hosts/"+h.ID().String()+"/tools_history", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"tools_history":[]}`, rec.Body.String())

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/v1/ws/acme/hosts/not-an-id/tools_history", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/v1/ws/acme/services/"+shared.NewID().String()+"/tools_history", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHostVulnCount(t *testing.T) {
	env := newTestEnv(t)
	h := env.host(t, "10.0.0.1")
	v, err := vulnerability.NewVulnerability(env.ws.ID(), shared.HostParent(h.ID()), "Weak TLS", "alice", vulnerability.Attributes{})
	require.NoError(t, err)
	require.NoError(t, env.st.Vulnerabilities().Create(env.ctx, v))

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/v1/ws/acme/hosts/"+h.ID().String()+"/vulns/count", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), decode[VulnCountResponse](t, rec).Count)
}

// =============================================================================
// Rules
// =============================================================================

func TestRulesRun_AdHoc(t *testing.T) {
	env := newTestEnv(t)
	h := env.host(t, "10.0.0.1")
	for _, in := range []struct {
		name string
		sev  vulnerability.Severity
	}{{"V1", vulnerability.SeverityLow}, {"V2", vulnerability.SeverityLow}, {"V3", vulnerability.SeverityHigh}} {
		v, err := vulnerability.NewVulnerability(env.ws.ID(), shared.HostParent(h.ID()), in.name, "alice", vulnerability.Attributes{Severity: in.sev})
		require.NoError(t, err)
		require.NoError(t, env.st.Vulnerabilities().Create(env.ctx, v))
	}

	body := `{"rules":[{"id":"low-to-medium","model":"Vulnerability","object":"severity=low","actions":["--UPDATE:severity=medium"]}]}`
	rec := env.do(httptest.NewRequest(http.MethodPost, "/api/v1/ws/acme/rules/run", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	report := decode[searcher.Report](t, rec)
	assert.Equal(t, searcher.TriggerAPI, report.Trigger)
	assert.Equal(t, 2, report.Totals.Matched)
	assert.Equal(t, 2, report.Totals.Mutated)

	rules, err := env.st.Rules().ListByWorkspace(env.ctx, env.ws.ID())
	require.NoError(t, err)
	assert.Empty(t, rules, "ad hoc rules are not stored")
}

func TestRulesRun_InvalidDefinitionSkipped(t *testing.T) {
	env := newTestEnv(t)
	h := env.host(t, "10.0.0.1")
	v, err := vulnerability.NewVulnerability(env.ws.ID(), shared.HostParent(h.ID()), "V1", "alice", vulnerability.Attributes{Severity: vulnerability.SeverityLow})
	require.NoError(t, err)
	require.NoError(t, env.st.Vulnerabilities().Create(env.ctx, v))

	body := `{"rules":[
		{"id":"no-object","model":"Vulnerability","actions":["--DELETE:"]},
		{"id":"host-rule","model":"Host","object":"ip=10.0.0.1","actions":["--DELETE:"]},
		{"id":"low-to-medium","model":"Vulnerability","object":"severity=low","actions":["--UPDATE:severity=medium"]}
	]}`
	rec := env.do(httptest.NewRequest(http.MethodPost, "/api/v1/ws/acme/rules/run", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	report := decode[searcher.Report](t, rec)
	require.Len(t, report.Rules, 3)
	assert.True(t, report.Rules[0].Skipped)
	assert.True(t, report.Rules[1].Skipped)
	assert.Equal(t, "low-to-medium", report.Rules[2].Label)
	assert.Equal(t, 1, report.Totals.Mutated)
	assert.Equal(t, 2, report.Totals.Errors)

	got, err := env.st.Vulnerabilities().GetByID(env.ctx, env.ws.ID(), v.ID())
	require.NoError(t, err)
	assert.Equal(t, vulnerability.SeverityMedium, got.Severity())
}

func TestRulesRun_BadJSON(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(httptest.NewRequest(http.MethodPost, "/api/v1/ws/acme/rules/run", strings.NewReader(`{"rules":`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRules_CRUD(t *testing.T) {
	env := newTestEnv(t)

	body := `{"name":"close-info","model":"Vulnerability","object":"severity=informational","actions":["--UPDATE:status=closed"]}`
	rec := env.do(httptest.NewRequest(http.MethodPost, "/api/v1/ws/acme/rules", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[RuleResponse](t, rec)
	assert.Equal(t, []string{"--UPDATE:status=closed"}, created.Actions)

	rec = env.do(httptest.NewRequest(http.MethodPatch, "/api/v1/ws/acme/rules/"+created.ID, strings.NewReader(`{"disabled":true}`)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decode[RuleResponse](t, rec).Disabled)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/v1/ws/acme/rules", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[ListResponse[RuleResponse]](t, rec)
	require.Equal(t, 1, list.Total)
	assert.Equal(t, "close-info", list.Data[0].Name)

	// Stored run with an empty body.
	rec = env.do(httptest.NewRequest(http.MethodPost, "/api/v1/ws/acme/rules/run", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(httptest.NewRequest(http.MethodDelete, "/api/v1/ws/acme/rules/"+created.ID, nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodDelete, "/api/v1/ws/acme/rules/"+created.ID, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// Health
// =============================================================================

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	h := NewHealthHandler(
		WithQueue(env.ingest),
		WithDependency("database", pingerFunc(func(context.Context) error { return nil })),
	)

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotNil(t, decode[HealthResponse](t, rec).Queue)

	rec = httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	down := NewHealthHandler(WithDependency("redis", pingerFunc(func(context.Context) error { return errors.New("connection refused") })))
	rec = httptest.NewRecorder()
	down.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "error", decode[ReadyResponse](t, rec).Checks["redis"].Status)
}
