package shared

import (
	"errors"
	"fmt"
	"strings"
)

// Capability is a permission granted to a principal by the identity service.
type Capability string

const (
	CapabilityCreator  Capability = "creator"
	CapabilityApprover Capability = "approver"
	CapabilityAdmin    Capability = "admin"
)

// ErrPrincipalMissing indicates a mutating call arrived without an acting principal.
var ErrPrincipalMissing = errors.New("shared: principal required")

// Principal is the acting identity for a ledger operation.
type Principal struct {
	ID           string
	Capabilities []Capability
}

// NewPrincipal builds a principal with the given capabilities.
func NewPrincipal(id string, caps ...Capability) Principal {
	return Principal{ID: id, Capabilities: caps}
}

// Has reports whether the principal holds capability c.
func (p Principal) Has(c Capability) bool {
	for _, held := range p.Capabilities {
		if held == c {
			return true
		}
	}
	return false
}

// HasAny reports whether the principal holds at least one of caps.
func (p Principal) HasAny(caps ...Capability) bool {
	for _, c := range caps {
		if p.Has(c) {
			return true
		}
	}
	return false
}

// Valid checks the principal carries an identifier.
func (p Principal) Valid() error {
	if strings.TrimSpace(p.ID) == "" {
		return ErrPrincipalMissing
	}
	return nil
}

// ParseCapabilities reads a comma separated capability list.
func ParseCapabilities(raw string) ([]Capability, error) {
	var caps []Capability
	for _, part := range strings.Split(raw, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		c := Capability(part)
		switch c {
		case CapabilityCreator, CapabilityApprover, CapabilityAdmin:
			caps = append(caps, c)
		default:
			return nil, fmt.Errorf("shared: unknown capability %q", part)
		}
	}
	return caps, nil
}
