package expose

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/koltyakov/hooktunnel/internal/netutil"
	"github.com/koltyakov/hooktunnel/internal/tunnelproto"
)

func (c *Client) forwardLocal(ctx context.Context, base *url.URL, req *tunnelproto.HTTPRequest) *tunnelproto.HTTPResponse {
	body, err := tunnelproto.DecodeBody(req.BodyB64)
	if err != nil {
		return badGateway(req.ID, "invalid request body encoding")
	}
	localReq, err := http.NewRequestWithContext(ctx, req.Method, netutil.JoinPath(base, req.Path, req.Query), bytes.NewReader(body))
	if err != nil {
		return badGateway(req.ID, "invalid forwarded request")
	}
	headers := http.Header(tunnelproto.CloneHeaders(req.Headers))
	netutil.RemoveHopByHopHeaders(headers)
	forwardedHost := strings.TrimSpace(headers.Get("Host"))
	localReq.Header = headers
	localReq.Header.Del("Host")
	if forwardedHost != "" {
		localReq.Host = forwardedHost
	} else {
		localReq.Host = base.Host
	}

	resp, err := c.fwdClient.Do(localReq)
	if err != nil {
		return badGateway(req.ID, "local upstream unavailable")
	}
	defer func() { _ = resp.Body.Close() }()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(io.LimitReader(resp.Body, localForwardResponseMaxB64+1)); err != nil {
		return badGateway(req.ID, "failed to read local upstream response")
	}
	if buf.Len() > localForwardResponseMaxB64 {
		return badGateway(req.ID, "local upstream response too large")
	}
	respHeaders := http.Header(tunnelproto.CloneHeaders(resp.Header))
	netutil.RemoveHopByHopHeaders(respHeaders)
	return &tunnelproto.HTTPResponse{
		ID:      req.ID,
		Status:  resp.StatusCode,
		Headers: respHeaders,
		BodyB64: tunnelproto.EncodeBody(buf.Bytes()),
	}
}

func badGateway(id, msg string) *tunnelproto.HTTPResponse {
	return &tunnelproto.HTTPResponse{
		ID:      id,
		Status:  http.StatusBadGateway,
		Headers: map[string][]string{"Content-Type": {"text/plain; charset=utf-8"}},
		BodyB64: tunnelproto.EncodeBody([]byte(msg)),
	}
}
