package auth

import (
	"classwatch/pkg/types"
)

// Decision is the outcome of an authorization check.
type Decision int

const (
	Deny Decision = iota
	Allow
)

// Authorize maps an identity to the dashboards it may render and the
// transitions it may invoke. A Deny must route the client to the neutral
// landing state before any privileged data is fetched; callers check the
// gate first and only then touch session documents.
//
// Authorization is evaluated per decision, never cached: callers re-run the
// gate on every request and on every observed identity change.
func Authorize(identity *types.Identity, requiredRole types.Role) Decision {
	if identity == nil || !identity.Role.IsValid() {
		return Deny
	}
	if identity.Role != requiredRole {
		return Deny
	}
	return Allow
}

// AuthorizeAny allows an identity holding any of the given roles.
func AuthorizeAny(identity *types.Identity, roles ...types.Role) Decision {
	for _, role := range roles {
		if Authorize(identity, role) == Allow {
			return Allow
		}
	}
	return Deny
}
