// Package domain defines the core data types shared across the tunnel,
// registry, and lifecycle layers.
package domain

import (
	"strings"
	"time"
)

// ResourceID names a remote container that owns registrations, such as a
// Contentful space ID or a GitHub "owner/repo".
type ResourceID string

// IdentityPrefix precedes the host name in every identity label.
const IdentityPrefix = "Tunnel to "

// Header names attached to every created registration.
const (
	HeaderIdentity    = "X-Tunnel-Identity"
	HeaderDateCreated = "X-Date-Created"
)

// IdentityLabel derives the dedup label for a host. The comparison against
// remote records is exact and case-sensitive.
func IdentityLabel(hostname string) string {
	return IdentityPrefix + strings.TrimSpace(hostname)
}

// Header is a single custom header delivered with each event.
type Header struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Registration is one remote webhook record.
type Registration struct {
	ID            string
	Resource      ResourceID
	URL           string
	IdentityLabel string
	Username      string
	Headers       []Header
	Topics        []string
	CreatedAt     time.Time
}

// Header returns the value of the named custom header, if present.
func (r Registration) Header(key string) (string, bool) {
	for _, h := range r.Headers {
		if strings.EqualFold(h.Key, key) {
			return h.Value, true
		}
	}
	return "", false
}

// RegistrationData is the payload used to create a registration.
type RegistrationData struct {
	Name     string
	URL      string
	Username string
	Password string
	Headers  []Header
	Topics   []string
}
