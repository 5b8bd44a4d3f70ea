// Package contentful manages webhook definitions through the Contentful
// Content Management API.
package contentful

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/koltyakov/hooktunnel/internal/domain"
	"github.com/koltyakov/hooktunnel/internal/registry"
)

// DefaultBaseURL is the public Content Management API endpoint.
const DefaultBaseURL = "https://api.contentful.com"

const (
	contentType = "application/vnd.contentful.management.v1+json"
	pageLimit   = 100
)

// Client implements [registry.API] for Contentful spaces. Resource IDs are
// space IDs.
type Client struct {
	baseURL   string
	token     string
	userAgent string
	http      *http.Client
	log       *slog.Logger
}

var _ registry.API = (*Client)(nil)

// New returns a Client. An empty baseURL selects [DefaultBaseURL].
func New(baseURL, token string, timeout time.Duration, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
		log:     logger,
	}
}

// WithUserAgent sets the User-Agent sent with every request.
func (c *Client) WithUserAgent(ua string) *Client {
	c.userAgent = ua
	return c
}

// APIError is a non-2xx Contentful response.
type APIError struct {
	StatusCode int
	ID         string
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("contentful %d %s: %s", e.StatusCode, e.ID, e.Message)
	}
	return fmt.Sprintf("contentful %d: %s", e.StatusCode, e.Message)
}

type sys struct {
	ID        string    `json:"id,omitempty"`
	Type      string    `json:"type,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitzero"`
}

type webhook struct {
	Sys               sys             `json:"sys,omitzero"`
	Name              string          `json:"name"`
	URL               string          `json:"url"`
	HTTPBasicUsername string          `json:"httpBasicUsername,omitempty"`
	HTTPBasicPassword string          `json:"httpBasicPassword,omitempty"`
	Headers           []domain.Header `json:"headers"`
	Topics            []string        `json:"topics"`
}

type collection struct {
	Items []webhook `json:"items"`
	Total int       `json:"total"`
	Skip  int       `json:"skip"`
	Limit int       `json:"limit"`
}

type errorBody struct {
	Sys       sys    `json:"sys"`
	Message   string `json:"message"`
	RequestID string `json:"requestId"`
}

func (w webhook) registration(space domain.ResourceID) domain.Registration {
	return domain.Registration{
		ID:            w.Sys.ID,
		Resource:      space,
		URL:           w.URL,
		IdentityLabel: w.Name,
		Username:      w.HTTPBasicUsername,
		Headers:       w.Headers,
		Topics:        w.Topics,
		CreatedAt:     w.Sys.CreatedAt,
	}
}

func (c *Client) definitionsURL(space domain.ResourceID) string {
	return c.baseURL + "/spaces/" + url.PathEscape(string(space)) + "/webhook_definitions"
}

// ListRegistrations returns every webhook definition in the space.
func (c *Client) ListRegistrations(ctx context.Context, space domain.ResourceID) ([]domain.Registration, error) {
	var out []domain.Registration
	for skip := 0; ; {
		q := url.Values{}
		q.Set("skip", strconv.Itoa(skip))
		q.Set("limit", strconv.Itoa(pageLimit))
		var page collection
		if err := c.do(ctx, http.MethodGet, c.definitionsURL(space)+"?"+q.Encode(), nil, &page); err != nil {
			return nil, err
		}
		for _, w := range page.Items {
			out = append(out, w.registration(space))
		}
		skip += len(page.Items)
		if len(page.Items) == 0 || skip >= page.Total {
			return out, nil
		}
	}
}

// CreateRegistration creates a webhook definition in the space.
func (c *Client) CreateRegistration(ctx context.Context, space domain.ResourceID, data domain.RegistrationData) (domain.Registration, error) {
	in := webhook{
		Name:              data.Name,
		URL:               data.URL,
		HTTPBasicUsername: data.Username,
		HTTPBasicPassword: data.Password,
		Headers:           data.Headers,
		Topics:            data.Topics,
	}
	if in.Headers == nil {
		in.Headers = []domain.Header{}
	}
	var created webhook
	if err := c.do(ctx, http.MethodPost, c.definitionsURL(space), in, &created); err != nil {
		return domain.Registration{}, err
	}
	c.log.Debug("contentful webhook created", "space", space, "id", created.Sys.ID)
	return created.registration(space), nil
}

// DeleteRegistration removes a webhook definition.
func (c *Client) DeleteRegistration(ctx context.Context, reg domain.Registration) error {
	u := c.definitionsURL(reg.Resource) + "/" + url.PathEscape(reg.ID)
	return c.do(ctx, http.MethodDelete, u, nil, nil)
}

func (c *Client) do(ctx context.Context, method, u string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if in != nil {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(b))}
		var eb errorBody
		if json.Unmarshal(b, &eb) == nil && eb.Message != "" {
			apiErr.ID = eb.Sys.ID
			apiErr.Message = eb.Message
			apiErr.RequestID = eb.RequestID
		}
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, u, err)
	}
	return nil
}
