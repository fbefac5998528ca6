package middleware

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/scanmerge/internal/config"
	"github.com/openctemio/scanmerge/pkg/inflate"
	"github.com/openctemio/scanmerge/pkg/logger"
)

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// echo writes the request body back.
var echo = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	_, _ = w.Write(body)
})

func TestDecompress(t *testing.T) {
	payload := []byte(strings.Repeat("<host/>", 50))
	bomb := gzipBytes(t, make([]byte, 1<<20))
	limits := inflate.Limits{MaxCompressedSize: 1 << 20, MaxDecompressedSize: 1 << 16, MaxRatio: 100}

	tests := []struct {
		name     string
		encoding string
		body     []byte
		status   int
		want     []byte
	}{
		{"identity", "", payload, http.StatusOK, payload},
		{"gzip", "gzip", gzipBytes(t, payload), http.StatusOK, payload},
		{"unsupported", "br", payload, http.StatusUnsupportedMediaType, nil},
		{"bomb", "gzip", bomb, http.StatusRequestEntityTooLarge, nil},
		{"corrupt", "gzip", []byte("not gzip"), http.StatusBadRequest, nil},
	}

	h := Decompress(limits)(echo)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/upload", bytes.NewReader(tt.body))
			if tt.encoding != "" {
				req.Header.Set("Content-Encoding", tt.encoding)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.want != nil {
				assert.Equal(t, tt.want, rec.Body.Bytes())
			}
		})
	}
}

func TestBodyLimitThenDecompress(t *testing.T) {
	h := BodyLimit(16)(Decompress(inflate.DefaultLimits())(echo))

	req := httptest.NewRequest(http.MethodPost, "/upload", bytes.NewReader(gzipBytes(t, []byte(strings.Repeat("a", 1000)))))
	req.Header.Set("Content-Encoding", "gzip")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestIdentity(t *testing.T) {
	var seen string
	h := Identity()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = GetUploader(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(UserIDHeader, " alice ")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "alice", seen)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Empty(t, seen)
}

func TestRateLimiter_PerIdentity(t *testing.T) {
	rl := NewRateLimiter(&config.RateLimitConfig{RequestsPerSec: 0.001, Burst: 1, CleanupInterval: time.Hour}, nil, logger.NewNop())
	defer rl.Stop()
	h := Identity()(rl.Middleware()(echo))

	do := func(user string) int {
		req := httptest.NewRequest(http.MethodPost, "/upload", nil)
		req.Header.Set(UserIDHeader, user)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, do("alice"))
	assert.Equal(t, http.StatusTooManyRequests, do("alice"))
	assert.Equal(t, http.StatusOK, do("bob"))
}

func TestRateLimitWithStop_Disabled(t *testing.T) {
	mw, stop := RateLimitWithStop(&config.RateLimitConfig{Enabled: false}, logger.NewNop())
	defer stop()

	h := mw(echo)
	for range 5 {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestRecovery(t *testing.T) {
	h := Recovery(logger.NewNop(), true)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "boom")
}

func TestTimeout(t *testing.T) {
	slow := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	rec := httptest.NewRecorder()
	Timeout(10*time.Millisecond)(slow).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestTimeout_StartedResponseIsWaitedFor(t *testing.T) {
	release := make(chan struct{})
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("part one,"))
		<-r.Context().Done()
		<-release
		w.Header().Set("X-Late", "ignored")
		_, _ = w.Write([]byte("part two"))
	})

	rec := httptest.NewRecorder()
	served := make(chan struct{})
	go func() {
		defer close(served)
		Timeout(10*time.Millisecond)(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	}()

	select {
	case <-served:
		t.Fatal("returned while the handler was still writing")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	<-served

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "part one,part two", rec.Body.String())
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	assert.Empty(t, rec.Header().Get("X-Late"))
}

func TestTimeout_TimedOutHandlerCannotWrite(t *testing.T) {
	wrote := make(chan error, 1)
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		time.Sleep(10 * time.Millisecond)
		w.Header().Set("X-Late", "1")
		_, err := w.Write([]byte("late"))
		wrote <- err
	})

	rec := httptest.NewRecorder()
	Timeout(10*time.Millisecond)(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)

	assert.ErrorIs(t, <-wrote, context.DeadlineExceeded)
	assert.NotContains(t, rec.Body.String(), "late")
	assert.Empty(t, rec.Header().Get("X-Late"))
}

func TestTimeout_HeadersWithoutBody(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-Done", "yes")
	})
	rec := httptest.NewRecorder()
	Timeout(time.Second)(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "yes", rec.Header().Get("X-Done"))
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", seen)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestWorkspace(t *testing.T) {
	var seen any
	r := chi.NewRouter()
	r.Route("/api/v1/ws/{workspace}", func(cr chi.Router) {
		cr.Use(Workspace())
		cr.Get("/rules", func(_ http.ResponseWriter, r *http.Request) {
			seen = r.Context().Value(WorkspaceKey)
		})
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/ws/acme/rules", nil))
	assert.Equal(t, "acme", seen)
}
