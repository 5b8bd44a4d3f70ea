// Package github manages repository webhooks through the GitHub REST API.
//
// GitHub hooks carry no free-form name, so the identity label travels in
// the payload URL as the [IdentityParam] query parameter. Basic-auth
// credentials become the hook secret, which the local listener uses to
// verify X-Hub-Signature-256.
package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	gh "github.com/google/go-github/v81/github"

	"github.com/koltyakov/hooktunnel/internal/domain"
	"github.com/koltyakov/hooktunnel/internal/registry"
)

// IdentityParam is the payload URL query parameter holding the identity
// label.
const IdentityParam = "hooktunnel_identity"

// CreatedParam is the payload URL query parameter holding the creation time.
const CreatedParam = "hooktunnel_created"

// Client implements [registry.API] for GitHub repositories. Resource IDs
// have the form "owner/repo".
type Client struct {
	gh  *gh.Client
	log *slog.Logger
}

var _ registry.API = (*Client)(nil)

// New returns a Client authenticated with token. A non-empty baseURL points
// the client at a GitHub Enterprise or test server.
func New(token, baseURL string, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client := gh.NewClient(httpClient)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	if baseURL != "" {
		u, err := url.Parse(strings.TrimSuffix(baseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("parse github base url: %w", err)
		}
		client.BaseURL = u
	}
	return &Client{gh: client, log: logger}, nil
}

// WithUserAgent sets the User-Agent sent with every request.
func (c *Client) WithUserAgent(ua string) *Client {
	c.gh.UserAgent = ua
	return c
}

func splitRepo(resource domain.ResourceID) (string, string, error) {
	owner, repo, ok := strings.Cut(string(resource), "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", fmt.Errorf("invalid repository %q (expected owner/repo)", resource)
	}
	return owner, repo, nil
}

// ListRegistrations returns every hook on the repository.
func (c *Client) ListRegistrations(ctx context.Context, resource domain.ResourceID) ([]domain.Registration, error) {
	owner, repo, err := splitRepo(resource)
	if err != nil {
		return nil, err
	}
	var out []domain.Registration
	opts := &gh.ListOptions{PerPage: 100}
	for {
		hooks, resp, err := c.gh.Repositories.ListHooks(ctx, owner, repo, opts)
		if err != nil {
			return nil, err
		}
		for _, h := range hooks {
			out = append(out, registration(resource, h))
		}
		if resp == nil || resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}

// CreateRegistration creates a JSON web hook pointing at data.URL.
func (c *Client) CreateRegistration(ctx context.Context, resource domain.ResourceID, data domain.RegistrationData) (domain.Registration, error) {
	owner, repo, err := splitRepo(resource)
	if err != nil {
		return domain.Registration{}, err
	}
	payloadURL, err := tagURL(data)
	if err != nil {
		return domain.Registration{}, err
	}
	cfg := &gh.HookConfig{
		URL:         gh.Ptr(payloadURL),
		ContentType: gh.Ptr("json"),
		InsecureSSL: gh.Ptr("0"),
	}
	if data.Password != "" {
		cfg.Secret = gh.Ptr(data.Password)
	}
	events := data.Topics
	if len(events) == 0 {
		events = []string{"*"}
	}
	hook, _, err := c.gh.Repositories.CreateHook(ctx, owner, repo, &gh.Hook{
		Name:   gh.Ptr("web"),
		Active: gh.Ptr(true),
		Events: events,
		Config: cfg,
	})
	if err != nil {
		return domain.Registration{}, err
	}
	c.log.Debug("github hook created", "repo", resource, "id", hook.GetID())
	return registration(resource, hook), nil
}

// DeleteRegistration deletes the hook.
func (c *Client) DeleteRegistration(ctx context.Context, reg domain.Registration) error {
	owner, repo, err := splitRepo(reg.Resource)
	if err != nil {
		return err
	}
	var id int64
	if _, err := fmt.Sscan(reg.ID, &id); err != nil {
		return fmt.Errorf("invalid hook id %q: %w", reg.ID, err)
	}
	_, err = c.gh.Repositories.DeleteHook(ctx, owner, repo, id)
	return err
}

func tagURL(data domain.RegistrationData) (string, error) {
	u, err := url.Parse(data.URL)
	if err != nil {
		return "", fmt.Errorf("parse payload url: %w", err)
	}
	q := u.Query()
	q.Set(IdentityParam, data.Name)
	for _, h := range data.Headers {
		if h.Key == domain.HeaderDateCreated {
			q.Set(CreatedParam, h.Value)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func registration(resource domain.ResourceID, h *gh.Hook) domain.Registration {
	reg := domain.Registration{
		ID:       fmt.Sprint(h.GetID()),
		Resource: resource,
		Topics:   h.Events,
	}
	if !h.GetCreatedAt().IsZero() {
		reg.CreatedAt = h.GetCreatedAt().Time
	}
	if h.Config == nil {
		return reg
	}
	raw := h.Config.GetURL()
	reg.URL = raw
	u, err := url.Parse(raw)
	if err != nil {
		return reg
	}
	q := u.Query()
	reg.IdentityLabel = q.Get(IdentityParam)
	if reg.IdentityLabel != "" {
		reg.Headers = append(reg.Headers, domain.Header{Key: domain.HeaderIdentity, Value: reg.IdentityLabel})
	}
	if created := q.Get(CreatedParam); created != "" {
		reg.Headers = append(reg.Headers, domain.Header{Key: domain.HeaderDateCreated, Value: created})
	}
	q.Del(IdentityParam)
	q.Del(CreatedParam)
	u.RawQuery = q.Encode()
	reg.URL = u.String()
	return reg
}
