package debug

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	logx "threadrunner/pkg/logx"
)

func testServer(cfg Config) *Server {
	return New(cfg, Sources{
		Status: func() any { return map[string]int{"pending": 3} },
		Recent: func(limit int) any {
			out := make([]int, limit)
			for i := range out {
				out[i] = i
			}
			return out
		},
	}, logx.Nop())
}

func do(t *testing.T, h http.Handler, target string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if len(header) == 2 {
		req.Header.Set(header[0], header[1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerEndpoints(t *testing.T) {
	t.Parallel()

	cfg := Config{Enabled: true}
	h := testServer(cfg).handler(cfg)

	if rec := do(t, h, "/healthz"); rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q, want 200 ok", rec.Code, rec.Body.String())
	}

	rec := do(t, h, "/status")
	var status map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("status body: %v", err)
	}
	if status["pending"] != 3 {
		t.Fatalf("pending = %d, want 3", status["pending"])
	}

	rec = do(t, h, "/history?limit=2")
	var items []int
	if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil {
		t.Fatalf("history body: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("history len = %d, want 2", len(items))
	}
	if rec := do(t, h, "/history?limit=zero"); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit code = %d, want 400", rec.Code)
	}
	if rec := do(t, h, "/debug/pprof/"); rec.Code != http.StatusNotFound {
		t.Fatalf("pprof disabled code = %d, want 404", rec.Code)
	}
}

func TestHandlerMissingSources(t *testing.T) {
	t.Parallel()

	cfg := Config{Enabled: true}
	h := New(cfg, Sources{}, logx.Nop()).handler(cfg)
	if rec := do(t, h, "/status"); rec.Code != http.StatusNotFound {
		t.Fatalf("status code = %d, want 404", rec.Code)
	}
}

func TestHandlerAuth(t *testing.T) {
	t.Parallel()

	cfg := Config{Enabled: true, Token: "s3cret", Pprof: true}
	h := testServer(cfg).handler(cfg)

	tests := []struct {
		name   string
		target string
		header []string
		want   int
	}{
		{name: "missing", target: "/status", want: http.StatusUnauthorized},
		{name: "query", target: "/status?token=s3cret", want: http.StatusOK},
		{name: "wrong query", target: "/status?token=nope", want: http.StatusUnauthorized},
		{name: "bearer", target: "/status", header: []string{"Authorization", "Bearer s3cret"}, want: http.StatusOK},
		{name: "pprof", target: "/debug/pprof/?token=s3cret", want: http.StatusOK},
	}
	for _, tt := range tests {
		if rec := do(t, h, tt.target, tt.header...); rec.Code != tt.want {
			t.Fatalf("%s: code = %d, want %d", tt.name, rec.Code, tt.want)
		}
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()

	tests := map[string]bool{
		"127.0.0.1:6060": true,
		"localhost:80":   true,
		"[::1]:6060":     true,
		":6060":          false,
		"0.0.0.0:6060":   false,
		"10.0.0.1:6060":  false,
		"nonsense":       false,
	}
	for addr, want := range tests {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("isLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}

func TestServerStartStop(t *testing.T) {
	t.Parallel()

	s := testServer(Config{Enabled: true, Addr: "127.0.0.1:0"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	var addr string
	deadline := time.Now().Add(2 * time.Second)
	for addr == "" && time.Now().Before(deadline) {
		addr = s.Addr()
		time.Sleep(10 * time.Millisecond)
	}
	if addr == "" {
		t.Fatalf("server did not bind")
	}

	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	s.Stop(stopCtx)
	if s.Addr() != "" {
		t.Fatalf("addr after stop = %q, want empty", s.Addr())
	}
}

func TestRefusesInsecureBind(t *testing.T) {
	t.Parallel()

	s := testServer(Config{Enabled: true, Addr: "0.0.0.0:0"})
	err := s.serveOnce(context.Background())
	if err == nil || !strings.Contains(err.Error(), "insecure bind") {
		t.Fatalf("err = %v, want insecure bind", err)
	}
}
