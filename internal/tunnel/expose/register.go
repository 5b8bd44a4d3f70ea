package expose

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/koltyakov/hooktunnel/internal/config"
	"github.com/koltyakov/hooktunnel/internal/netutil"
	"github.com/koltyakov/hooktunnel/internal/tunnelproto"
	"github.com/koltyakov/hooktunnel/internal/versionutil"
)

// registerError is a structured error from the relay's registration endpoint.
type registerError struct {
	StatusCode int
	Message    string
	Code       string
}

func (e *registerError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("register: %s (%s, status %d)", e.Message, e.Code, e.StatusCode)
	}
	return fmt.Sprintf("register: %s (status %d)", e.Message, e.StatusCode)
}

func (c *Client) register(ctx context.Context, cfg config.Tunnel) (tunnelproto.RegisterResponse, error) {
	mode := "temporary"
	if cfg.Subdomain != "" {
		mode = "permanent"
	}
	hostname, _ := os.Hostname()
	in := tunnelproto.RegisterRequest{
		Mode:           mode,
		Subdomain:      cfg.Subdomain,
		ClientHostname: strings.TrimSpace(hostname),
		LocalPort:      fmt.Sprintf("%d", cfg.LocalPort),
		ClientVersion:  c.version,
	}
	if cfg.Auth != nil {
		in.User = cfg.Auth.User
		in.Password = cfg.Auth.Password
	}
	body, err := json.Marshal(in)
	if err != nil {
		return tunnelproto.RegisterResponse{}, err
	}

	u := strings.TrimSuffix(cfg.ServerURL, "/") + tunnelproto.RegisterPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return tunnelproto.RegisterResponse{}, err
	}
	if cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.AuthToken)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", versionutil.UserAgent(c.version))

	resp, err := c.apiClient.Do(req)
	if err != nil {
		return tunnelproto.RegisterResponse{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		re := &registerError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(b))}
		var errResp tunnelproto.ErrorResponse
		if json.Unmarshal(b, &errResp) == nil && errResp.Error != "" {
			re.Message = errResp.Error
			re.Code = errResp.ErrorCode
		}
		return tunnelproto.RegisterResponse{}, re
	}
	var out tunnelproto.RegisterResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return tunnelproto.RegisterResponse{}, fmt.Errorf("decode register response: %w", err)
	}
	out.WSURL = netutil.NormalizeWSURLPort(out.WSURL, cfg.ServerURL)
	if out.WSURL == "" {
		return tunnelproto.RegisterResponse{}, errors.New("server returned empty ws_url")
	}
	if out.PublicURL == "" {
		return tunnelproto.RegisterResponse{}, errors.New("server returned empty public_url")
	}
	return out, nil
}
