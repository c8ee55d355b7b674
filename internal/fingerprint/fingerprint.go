// Package fingerprint derives the device identifier used as the second uniqueness
// key of an attendance session. A deployment picks exactly one Strategy.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Request is what a strategy may look at.
type Request struct {
	IP             string
	UserAgent      string
	AcceptLanguage string
	AcceptEncoding string
	ClientValue    string
}

// Strategy turns request data into an opaque fingerprint. An empty result means
// no fingerprint could be derived.
type Strategy interface {
	Name() string
	Derive(req Request) string
}

// ServerDerived hashes request metadata. Identical browsers behind one NAT collide,
// so it deters casual reuse rather than proving distinct devices.
type ServerDerived struct{}

func (ServerDerived) Name() string { return "server" }

func (ServerDerived) Derive(req Request) string {
	if req.IP == "" && req.UserAgent == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(strings.Join([]string{
		req.IP,
		req.UserAgent,
		req.AcceptLanguage,
		req.AcceptEncoding,
	}, "|")))
	return hex.EncodeToString(sum[:])
}

// ClientSupplied trusts an identifier the client generated and cached locally.
type ClientSupplied struct{}

func (ClientSupplied) Name() string { return "client" }

func (ClientSupplied) Derive(req Request) string {
	return strings.TrimSpace(req.ClientValue)
}

// FromName returns the strategy configured under name.
func FromName(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "server":
		return ServerDerived{}, nil
	case "client", "":
		return ClientSupplied{}, nil
	default:
		return nil, fmt.Errorf("fingerprint: unknown strategy %q", name)
	}
}
