package listener

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/koltyakov/hooktunnel/internal/auth"
	"github.com/koltyakov/hooktunnel/internal/domain"
	ilog "github.com/koltyakov/hooktunnel/internal/log"
)

type recorder struct {
	mu   sync.Mutex
	seen []Delivery
}

func (r *recorder) add(d Delivery) {
	r.mu.Lock()
	r.seen = append(r.seen, d)
	r.mu.Unlock()
}

func (r *recorder) all() []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Delivery(nil), r.seen...)
}

func startServer(t *testing.T, opts Options) (*Server, string) {
	t.Helper()
	opts.Logger = ilog.Discard()
	s := New(opts)
	port, err := s.Listen(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if port == 0 || s.Port() != port {
		t.Fatalf("expected bound port, got %d", port)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s, fmt.Sprintf("http://127.0.0.1:%d", port)
}

func postContentful(t *testing.T, base, user, pass string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, base+"/", strings.NewReader(`{"sys":{"id":"entry1","type":"Entry"}}`))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/vnd.contentful.management.v1+json")
	req.Header.Set(headerContentfulTopic, "ContentManagement.Entry.publish")
	if user != "" {
		req.SetBasicAuth(user, pass)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	return resp
}

func TestContentfulDelivery(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	_, base := startServer(t, Options{Platform: "contentful", OnDelivery: rec.add})

	resp := postContentful(t, base, "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	got := rec.all()
	if len(got) != 1 || got[0].Topic != "ContentManagement.Entry.publish" || got[0].ID != "entry1" || got[0].Platform != "contentful" {
		t.Fatalf("unexpected deliveries %+v", got)
	}

	resp, err := http.Get(base + "/")
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET, got %d", resp.StatusCode)
	}

	resp, err = http.Get(base + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected healthz 200, got %d", resp.StatusCode)
	}
}

func TestBasicAuthGate(t *testing.T) {
	t.Parallel()

	v, err := auth.NewVerifier("webhook", "s3cret")
	if err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	_, base := startServer(t, Options{Platform: "contentful", Verifier: v, OnDelivery: rec.add})

	resp := postContentful(t, base, "", "")
	if resp.StatusCode != http.StatusUnauthorized || resp.Header.Get("WWW-Authenticate") == "" {
		t.Fatalf("expected basic auth challenge, got %d", resp.StatusCode)
	}
	resp = postContentful(t, base, "webhook", "wrong")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong password, got %d", resp.StatusCode)
	}
	resp = postContentful(t, base, "webhook", "s3cret")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with credentials, got %d", resp.StatusCode)
	}
	if n := len(rec.all()); n != 1 {
		t.Fatalf("expected only the authorized delivery recorded, got %d", n)
	}
}

func TestGitHubDeliverySignature(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	_, base := startServer(t, Options{Platform: "github", Secret: "hook-secret", OnDelivery: rec.add})

	body := `{"ref":"refs/heads/main","repository":{"full_name":"octo/repo"}}`
	send := func(secret string) int {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write([]byte(body))
		req, err := http.NewRequest(http.MethodPost, base+"/", strings.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-GitHub-Event", "push")
		req.Header.Set("X-GitHub-Delivery", "d-1")
		req.Header.Set("X-Hub-Signature-256", "sha256="+hex.EncodeToString(mac.Sum(nil)))
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		_ = resp.Body.Close()
		return resp.StatusCode
	}

	if code := send("wrong"); code != http.StatusBadRequest {
		t.Fatalf("expected bad signature rejected, got %d", code)
	}
	if code := send("hook-secret"); code != http.StatusOK {
		t.Fatalf("expected signed delivery accepted, got %d", code)
	}
	got := rec.all()
	if len(got) != 1 || got[0].Topic != "push" || got[0].ID != "d-1" {
		t.Fatalf("unexpected deliveries %+v", got)
	}
}

func TestListenConflictIsListenError(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	s := New(Options{Logger: ilog.Discard()})
	_, err = s.Listen(context.Background(), port)
	var le *domain.ListenError
	if !errors.As(err, &le) {
		t.Fatalf("expected ListenError, got %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	s := New(Options{Logger: ilog.Discard()})
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("close of unbound server: %v", err)
	}
	if _, err := s.Listen(context.Background(), 0); !errors.Is(err, domain.ErrClosed) {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}

	s2, base := startServer(t, Options{})
	if err := s2.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s2.Close(context.Background()); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if _, err := http.Get(base + "/healthz"); err == nil {
		t.Fatal("expected connection failure after close")
	}
}
