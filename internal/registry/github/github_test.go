package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	gh "github.com/google/go-github/v81/github"

	"github.com/koltyakov/hooktunnel/internal/domain"
	ilog "github.com/koltyakov/hooktunnel/internal/log"
)

type fakeGitHub struct {
	mu     sync.Mutex
	hooks  []*gh.Hook
	nextID int64
	auth   string
}

func (f *fakeGitHub) handler(t *testing.T, srvURL func() string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/{owner}/{repo}/hooks", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.auth = r.Header.Get("Authorization")
		hooks := append([]*gh.Hook(nil), f.hooks...)
		f.mu.Unlock()
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if page < 1 {
			page = 1
		}
		start := min((page-1)*2, len(hooks))
		end := min(start+2, len(hooks))
		if end < len(hooks) {
			next := fmt.Sprintf("%s%s?page=%d", srvURL(), r.URL.Path, page+1)
			w.Header().Set("Link", fmt.Sprintf("<%s>; rel=\"next\"", next))
		}
		_ = json.NewEncoder(w).Encode(hooks[start:end])
	})
	mux.HandleFunc("POST /repos/{owner}/{repo}/hooks", func(w http.ResponseWriter, r *http.Request) {
		var in gh.Hook
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if in.GetName() != "web" {
			t.Errorf("unexpected hook name %q", in.GetName())
		}
		f.mu.Lock()
		f.nextID++
		in.ID = gh.Ptr(f.nextID)
		in.CreatedAt = &gh.Timestamp{Time: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
		f.hooks = append(f.hooks, &in)
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(in)
	})
	mux.HandleFunc("DELETE /repos/{owner}/{repo}/hooks/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, h := range f.hooks {
			if h.GetID() == id {
				f.hooks = append(f.hooks[:i], f.hooks[i+1:]...)
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Not Found"}`))
	})
	return mux
}

func newTestClient(t *testing.T) (*Client, *fakeGitHub) {
	t.Helper()
	f := &fakeGitHub{}
	var srv *httptest.Server
	srv = httptest.NewServer(f.handler(t, func() string { return srv.URL }))
	t.Cleanup(srv.Close)
	c, err := New("gh-token", srv.URL, srv.Client(), ilog.Discard())
	if err != nil {
		t.Fatal(err)
	}
	return c, f
}

func TestCreateListDelete(t *testing.T) {
	t.Parallel()

	c, f := newTestClient(t)
	ctx := context.Background()

	for i := range 3 {
		reg, err := c.CreateRegistration(ctx, "octo/repo", domain.RegistrationData{
			Name:     fmt.Sprintf("Tunnel to host-%d", i),
			URL:      "https://abc.example.test/hook?x=1",
			Username: "webhook",
			Password: "secret",
			Headers:  []domain.Header{{Key: domain.HeaderDateCreated, Value: "2024-01-01T00:00:00Z"}},
		})
		if err != nil {
			t.Fatal(err)
		}
		if reg.IdentityLabel != fmt.Sprintf("Tunnel to host-%d", i) {
			t.Fatalf("expected identity parsed back from url, got %q", reg.IdentityLabel)
		}
	}

	f.mu.Lock()
	last := f.hooks[len(f.hooks)-1]
	f.mu.Unlock()
	if last.Config.GetSecret() != "secret" || last.Config.GetContentType() != "json" {
		t.Fatalf("unexpected hook config %+v", last.Config)
	}
	if len(last.Events) != 1 || last.Events[0] != "*" {
		t.Fatalf("expected wildcard events, got %v", last.Events)
	}
	u, err := url.Parse(last.Config.GetURL())
	if err != nil {
		t.Fatal(err)
	}
	if u.Query().Get(IdentityParam) != "Tunnel to host-2" || u.Query().Get("x") != "1" {
		t.Fatalf("unexpected payload url %q", u)
	}
	regs, err := c.ListRegistrations(ctx, "octo/repo")
	if err != nil {
		t.Fatal(err)
	}
	if len(regs) != 3 {
		t.Fatalf("expected 3 hooks across pages, got %d", len(regs))
	}
	first := regs[0]
	if first.ID != "1" || first.Resource != "octo/repo" || first.URL != "https://abc.example.test/hook?x=1" || first.CreatedAt.IsZero() {
		t.Fatalf("unexpected registration %+v", first)
	}
	if v, ok := first.Header(domain.HeaderDateCreated); !ok || v != "2024-01-01T00:00:00Z" {
		t.Fatalf("expected creation header, got %q", v)
	}

	f.mu.Lock()
	auth := f.auth
	f.mu.Unlock()
	if auth != "Bearer gh-token" {
		t.Fatalf("expected bearer token, got %q", auth)
	}

	if err := c.DeleteRegistration(ctx, first); err != nil {
		t.Fatal(err)
	}
	regs, err = c.ListRegistrations(ctx, "octo/repo")
	if err != nil {
		t.Fatal(err)
	}
	if len(regs) != 2 {
		t.Fatalf("expected 2 hooks after delete, got %d", len(regs))
	}
}

func TestForeignHooksHaveNoIdentity(t *testing.T) {
	t.Parallel()

	c, f := newTestClient(t)
	f.hooks = append(f.hooks, &gh.Hook{
		ID:     gh.Ptr(int64(99)),
		Name:   gh.Ptr("web"),
		Config: &gh.HookConfig{URL: gh.Ptr("https://ci.example.test/hook")},
	})
	regs, err := c.ListRegistrations(context.Background(), "octo/repo")
	if err != nil {
		t.Fatal(err)
	}
	if len(regs) != 1 || regs[0].IdentityLabel != "" || regs[0].ID != "99" {
		t.Fatalf("unexpected registrations %+v", regs)
	}
}

func TestDeleteMissingHookFails(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t)
	err := c.DeleteRegistration(context.Background(), domain.Registration{ID: "7", Resource: "octo/repo"})
	if err == nil {
		t.Fatal("expected not found error")
	}
	if err := c.DeleteRegistration(context.Background(), domain.Registration{ID: "abc", Resource: "octo/repo"}); err == nil {
		t.Fatal("expected invalid id error")
	}
}

func TestInvalidRepository(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t)
	for _, res := range []domain.ResourceID{"", "octo", "octo/", "/repo", "a/b/c"} {
		if _, err := c.ListRegistrations(context.Background(), res); err == nil {
			t.Fatalf("expected error for %q", res)
		}
	}
}
