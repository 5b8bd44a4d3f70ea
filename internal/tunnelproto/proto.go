// Package tunnelproto defines the JSON wire protocol spoken between an
// expose-compatible relay server and hooktunnel over a WebSocket connection.
package tunnelproto

import (
	"encoding/base64"
	"encoding/json"
	"errors"

	"github.com/gorilla/websocket"
)

// Message kinds identify the type of payload carried by a [Message].
const (
	KindRequest  = "request"
	KindResponse = "response"
	KindPing     = "ping"
	KindPong     = "pong"
	KindError    = "error"
	KindClose    = "close"
)

// RegisterPath is the relay endpoint that allocates a public URL.
const RegisterPath = "/v1/tunnels/register"

// Message is the top-level envelope exchanged on the tunnel WebSocket.
type Message struct {
	Kind     string        `json:"kind"`
	Request  *HTTPRequest  `json:"request,omitempty"`
	Response *HTTPResponse `json:"response,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// HTTPRequest is an inbound public HTTP request relayed to the local port.
type HTTPRequest struct {
	ID      string              `json:"id"`
	Method  string              `json:"method"`
	Path    string              `json:"path"`
	Query   string              `json:"query,omitempty"`
	Headers map[string][]string `json:"headers,omitempty"`
	BodyB64 string              `json:"body_b64,omitempty"`
}

// HTTPResponse is the local listener's reply to a relayed [HTTPRequest].
type HTTPResponse struct {
	ID      string              `json:"id"`
	Status  int                 `json:"status"`
	Headers map[string][]string `json:"headers,omitempty"`
	BodyB64 string              `json:"body_b64,omitempty"`
}

// RegisterRequest asks the relay for a public URL.
type RegisterRequest struct {
	Mode           string `json:"mode"`
	Subdomain      string `json:"subdomain,omitempty"`
	User           string `json:"user,omitempty"`
	Password       string `json:"password,omitempty"`
	ClientHostname string `json:"client_hostname,omitempty"`
	LocalPort      string `json:"local_port"`
	ClientVersion  string `json:"client_version,omitempty"`
}

// RegisterResponse carries the allocated public URL and the WebSocket
// endpoint the client must dial to receive traffic.
type RegisterResponse struct {
	TunnelID      string `json:"tunnel_id"`
	PublicURL     string `json:"public_url"`
	InspectURL    string `json:"inspect_url,omitempty"`
	WSURL         string `json:"ws_url"`
	ServerVersion string `json:"server_version,omitempty"`
}

// ErrorResponse is the JSON body of a failed register call.
type ErrorResponse struct {
	Error     string `json:"error"`
	ErrorCode string `json:"error_code,omitempty"`
}

// EncodeBody base64-encodes a byte slice for JSON transport.
func EncodeBody(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeBody decodes a base64-encoded body string.
func DecodeBody(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(s)
}

// CloneHeaders returns a deep copy of an HTTP header map.
func CloneHeaders(h map[string][]string) map[string][]string {
	out := make(map[string][]string, len(h))
	for k, v := range h {
		c := make([]string, len(v))
		copy(c, v)
		out[k] = c
	}
	return out
}

// ErrUnexpectedFrame is returned when a binary frame arrives on the JSON
// channel.
var ErrUnexpectedFrame = errors.New("unexpected non-text websocket frame")

// ReadWSMessage reads the next text frame from conn and decodes it into msg.
func ReadWSMessage(conn *websocket.Conn, msg *Message) error {
	typ, r, err := conn.NextReader()
	if err != nil {
		return err
	}
	if typ != websocket.TextMessage {
		return ErrUnexpectedFrame
	}
	return json.NewDecoder(r).Decode(msg)
}
