package gateway

import (
	"crypto/subtle"
	"net"

	"skyport/internal/domain"
)

// ClientInfo holds metadata about an authenticated bridge client.
type ClientInfo struct {
	Name string
}

// Authenticator validates incoming bridge connections. remoteAddr is the
// peer's host:port as seen by the listener.
type Authenticator interface {
	Authenticate(token, remoteAddr string) (*ClientInfo, error)
}

// TokenEntry is one accepted static token.
type TokenEntry struct {
	Token string
	Name  string
}

type authEntry struct {
	token []byte
	info  *ClientInfo
}

// StaticTokenAuth authenticates clients against a static token list
// using constant-time comparison.
type StaticTokenAuth struct {
	entries []authEntry
}

// NewStaticTokenAuth builds an authenticator from a set of token entries.
// Entries with an empty token are skipped.
func NewStaticTokenAuth(entries []TokenEntry) *StaticTokenAuth {
	a := &StaticTokenAuth{entries: make([]authEntry, 0, len(entries))}
	for _, e := range entries {
		if e.Token == "" {
			continue
		}
		a.entries = append(a.entries, authEntry{
			token: []byte(e.Token),
			info:  &ClientInfo{Name: e.Name},
		})
	}
	return a
}

// Authenticate returns client info if the token is valid. Every entry is
// compared so the time taken does not depend on which one matched.
func (s *StaticTokenAuth) Authenticate(token, _ string) (*ClientInfo, error) {
	tokenBytes := []byte(token)
	var match *ClientInfo
	for _, e := range s.entries {
		if subtle.ConstantTimeCompare(tokenBytes, e.token) == 1 && match == nil {
			match = e.info
		}
	}
	if match == nil {
		return nil, domain.ErrBridgeAuth
	}
	return match, nil
}

// LocalOnlyAuth accepts any token from a loopback peer and rejects everyone
// else.
type LocalOnlyAuth struct{}

func (LocalOnlyAuth) Authenticate(_, remoteAddr string) (*ClientInfo, error) {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	if !IsLoopbackHost(host) {
		return nil, domain.ErrBridgeAuth
	}
	return &ClientInfo{Name: "local"}, nil
}

// IsLoopbackHost reports whether host names the local machine.
func IsLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
