package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/kohki-shikata/psbg-boilerplate/internal/errors"
	"github.com/kohki-shikata/psbg-boilerplate/internal/logging"
	"github.com/kohki-shikata/psbg-boilerplate/internal/metrics"
)

func writeSite(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"),
		[]byte("<!DOCTYPE html><html><head><title>Home</title></head><body><p>hello</p></body></html>"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "about"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "about", "index.html"),
		[]byte("<html><body>about</body></html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "style.css"), []byte("body{color:red}"), 0o644))
	return root
}

func startServer(t *testing.T, opts Options) (*Server, *httptest.Server) {
	t.Helper()
	s := New(opts)
	ctx, cancel := context.WithCancel(context.Background())
	go s.hub.Run(ctx)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		cancel()
		ts.Close()
	})
	return s, ts
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestInjectLiveReload(t *testing.T) {
	t.Run("appends script to body", func(t *testing.T) {
		out, err := InjectLiveReload([]byte("<html><head></head><body><p>x</p></body></html>"))
		require.NoError(t, err)

		s := string(out)
		assert.Contains(t, s, WebSocketPath)
		assert.Less(t, strings.Index(s, "<p>x</p>"), strings.Index(s, "<script>"))
		assert.Less(t, strings.Index(s, "<script>"), strings.Index(s, "</body>"))
	})

	t.Run("idempotent", func(t *testing.T) {
		once, err := InjectLiveReload([]byte("<html><body></body></html>"))
		require.NoError(t, err)
		twice, err := InjectLiveReload(once)
		require.NoError(t, err)
		assert.Equal(t, once, twice)
		assert.Equal(t, 1, strings.Count(string(twice), WebSocketPath))
	})
}

func TestStaticHandler(t *testing.T) {
	root := writeSite(t)
	_, ts := startServer(t, Options{Root: root})

	t.Run("html gets live reload client", func(t *testing.T) {
		resp, body := get(t, ts.URL+"/")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, body, "hello")
		assert.Contains(t, body, WebSocketPath)
		assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
	})

	t.Run("nested directory index", func(t *testing.T) {
		resp, body := get(t, ts.URL+"/about/")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, body, "about")
		assert.Contains(t, body, WebSocketPath)
	})

	t.Run("other files are served as is", func(t *testing.T) {
		resp, body := get(t, ts.URL+"/style.css")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "body{color:red}", body)
	})

	t.Run("missing file", func(t *testing.T) {
		resp, _ := get(t, ts.URL+"/missing.html")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("method not allowed", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/", "text/plain", strings.NewReader("x"))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})
}

func TestErrorOverlay(t *testing.T) {
	root := writeSite(t)
	s, ts := startServer(t, Options{Root: root})

	collector := perrors.NewStageCollector("assets")
	collector.Add("css", errors.New("unexpected <brace>"))
	s.SetBuildResult(collector.Err())

	resp, body := get(t, ts.URL+"/")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, body, "Build failed")
	assert.Contains(t, body, "<li>css</li>")
	assert.Contains(t, body, "unexpected &lt;brace&gt;")
	assert.NotContains(t, body, "hello")

	t.Run("assets still served", func(t *testing.T) {
		resp, _ := get(t, ts.URL+"/style.css")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	s.SetBuildResult(nil)
	resp, body = get(t, ts.URL+"/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "hello")
}

func TestHealth(t *testing.T) {
	s, ts := startServer(t, Options{Root: t.TempDir()})

	resp, body := get(t, ts.URL+HealthPath)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var status HealthStatus
	require.NoError(t, json.Unmarshal([]byte(body), &status))
	assert.Equal(t, "healthy", status.Status)
	assert.NotEmpty(t, status.Version)
	assert.Empty(t, status.FailedStages)

	s.SetBuildResult(perrors.NewBuildError(perrors.ErrCodeStageFailed, "boom", nil).WithStage("js"))
	_, body = get(t, ts.URL+HealthPath)
	require.NoError(t, json.Unmarshal([]byte(body), &status))
	assert.Equal(t, "degraded", status.Status)
	assert.Equal(t, []string{"js"}, status.FailedStages)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := metrics.NewPrometheusRecorder(nil)
	rec.IncReloads()
	_, ts := startServer(t, Options{Root: t.TempDir(), Recorder: rec})

	resp, body := get(t, ts.URL+MetricsPath)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "psbg_live_reloads_total 1")

	t.Run("absent without recorder", func(t *testing.T) {
		_, ts := startServer(t, Options{Root: t.TempDir()})
		resp, _ := get(t, ts.URL+MetricsPath)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func dial(t *testing.T, s *Server, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + WebSocketPath
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })

	require.Eventually(t, func() bool { return s.Hub().ClientCount() > 0 }, 2*time.Second, 10*time.Millisecond)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) UpdateMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var msg UpdateMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestLiveReloadBroadcast(t *testing.T) {
	rec := metrics.NewPrometheusRecorder(nil)
	s, ts := startServer(t, Options{Root: t.TempDir(), ReloadDelay: 10 * time.Millisecond, Recorder: rec})
	conn := dial(t, s, ts)

	t.Run("reload", func(t *testing.T) {
		s.Reload()
		assert.Equal(t, MessageFullReload, readMessage(t, conn).Type)
	})

	t.Run("css update", func(t *testing.T) {
		s.CSSUpdate()
		assert.Equal(t, MessageCSSUpdate, readMessage(t, conn).Type)
	})

	t.Run("build error names stages", func(t *testing.T) {
		collector := perrors.NewStageCollector("assets")
		collector.Add("js", errors.New("syntax error"))
		s.SetBuildResult(collector.Err())

		msg := readMessage(t, conn)
		assert.Equal(t, MessageBuildError, msg.Type)
		assert.Equal(t, []string{"js"}, msg.Stages)
		assert.Contains(t, msg.Content, "syntax error")
	})
}

func TestReloadCoalesces(t *testing.T) {
	s, ts := startServer(t, Options{Root: t.TempDir(), ReloadDelay: 50 * time.Millisecond})
	conn := dial(t, s, ts)

	for i := 0; i < 5; i++ {
		s.Reload()
	}
	assert.Equal(t, MessageFullReload, readMessage(t, conn).Type)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, _, err := conn.Read(ctx)
	assert.Error(t, err, "only one message expected")
}

func TestHubClientLifecycle(t *testing.T) {
	s, ts := startServer(t, Options{Root: t.TempDir()})
	conn := dial(t, s, ts)
	assert.Equal(t, 1, s.Hub().ClientCount())

	_ = conn.Close(websocket.StatusNormalClosure, "")
	assert.Eventually(t, func() bool { return s.Hub().ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	s := New(Options{Addr: "127.0.0.1:0", Root: t.TempDir()})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestStartListenError(t *testing.T) {
	s := New(Options{Addr: "256.0.0.1:bad", Root: t.TempDir()})
	err := s.Start(context.Background())
	require.Error(t, err)
	assert.True(t, perrors.HasErrorCode(err, perrors.ErrCodeServerFailed))
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { order = append(order, "handler") }),
		mw("outer"), mw("inner"))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}

func TestRecoveryMiddleware(t *testing.T) {
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }),
		RecoveryMiddleware(logging.Nop()))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestFullReloadWinsOverCSSUpdate(t *testing.T) {
	s, ts := startServer(t, Options{Root: t.TempDir(), ReloadDelay: 50 * time.Millisecond})
	conn := dial(t, s, ts)

	s.Reload()
	s.CSSUpdate()
	assert.Equal(t, MessageFullReload, readMessage(t, conn).Type)
}

func TestStageFailureSurvivesUnrelatedRebuild(t *testing.T) {
	root := writeSite(t)
	s, ts := startServer(t, Options{Root: root})

	htmlErr := perrors.NewRenderError(perrors.ErrCodeRenderFailed, "unclosed action", nil).WithStage("html")
	s.SetStageResults([]string{"html", "sitemap", "googletags"}, htmlErr)
	require.Error(t, s.LastError())

	s.SetStageResults([]string{"css"}, nil)
	require.Error(t, s.LastError(), "html is still broken")
	assert.Equal(t, []string{"html"}, failedStages(s.LastError()))

	resp, body := get(t, ts.URL+"/")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, body, "<li>html</li>")

	s.SetStageResults([]string{"js"}, perrors.NewBuildError(perrors.ErrCodeBundleFailed, "bad js", nil).WithStage("js"))
	assert.Equal(t, []string{"html", "js"}, failedStages(s.LastError()))

	s.SetStageResults([]string{"html", "sitemap", "googletags"}, nil)
	assert.Equal(t, []string{"js"}, failedStages(s.LastError()))

	s.SetStageResults([]string{"js"}, nil)
	assert.NoError(t, s.LastError())
	resp, _ = get(t, ts.URL+"/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestFullBuildReplacesFailures(t *testing.T) {
	s := New(Options{Root: t.TempDir()})
	s.SetStageResults([]string{"css"}, perrors.NewBuildError(perrors.ErrCodeStyleFailed, "bad css", nil).WithStage("css"))
	require.Error(t, s.LastError())

	s.SetBuildResult(nil)
	assert.NoError(t, s.LastError())
}
