package accounting

import (
	"strings"

	"github.com/odyssey-erp/ipsas-ledger/internal/shared"
)

// Require checks the principal holds at least one of caps for action.
func Require(p shared.Principal, action string, caps ...shared.Capability) error {
	if err := p.Valid(); err != nil {
		return &AuthorizationError{Action: action, Reason: "no acting principal"}
	}
	if p.HasAny(caps...) {
		return nil
	}
	names := make([]string, len(caps))
	for i, c := range caps {
		names[i] = string(c)
	}
	return &AuthorizationError{Principal: p.ID, Action: action, Required: strings.Join(names, " or ")}
}
