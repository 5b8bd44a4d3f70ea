package debughttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMuxServesPprofIndex(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil)
	rr := httptest.NewRecorder()

	newMux(nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "profile?debug=1") {
		t.Fatalf("expected pprof index body, got %q", rr.Body.String())
	}
}

func TestMuxServesSessionStatus(t *testing.T) {
	t.Parallel()

	status := func() any {
		return map[string]any{"state": "ready", "port": 4321}
	}
	rr := httptest.NewRecorder()
	newMux(status).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/debug/session", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var got struct {
		State string `json:"state"`
		Port  int    `json:"port"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.State != "ready" || got.Port != 4321 {
		t.Fatalf("unexpected status %+v", got)
	}

	rr = httptest.NewRecorder()
	newMux(nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/debug/session", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without a status source, got %d", rr.Code)
	}
}

func TestStartDisabledWithoutAddress(t *testing.T) {
	t.Parallel()

	addr, err := Start(context.Background(), " ", nil, nil)
	if err != nil || addr != nil {
		t.Fatalf("expected disabled server, got %v %v", addr, err)
	}
}

func TestStartServesUntilCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	addr, err := Start(ctx, "127.0.0.1:0", func() any { return "ok" }, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Get("http://" + addr.String() + "/debug/session")
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
