package reservation

import (
	"homeclean/models"
	"homeclean/services/payerr"
)

type Role string

const (
	RoleClient   Role = "client"
	RoleProvider Role = "provider"
	RoleAdmin    Role = "admin"
	// RoleSystem is the webhook handler, the proof validator and the
	// reconciliation job acting on provider-confirmed facts.
	RoleSystem Role = "system"
)

// Actor is whoever asks for a transition. Origin is the caller's network
// address when known.
type Actor struct {
	ID     string
	Role   Role
	Origin string
}

func System() Actor {
	return Actor{ID: "system", Role: RoleSystem}
}

func (a Actor) String() string {
	if a.ID == "" {
		return string(a.Role)
	}
	return string(a.Role) + ":" + a.ID
}

// authorize passes when a holds one of roles. Clients and providers must
// also be the reservation's own.
func authorize(r *models.Reservation, a Actor, roles ...Role) error {
	for _, role := range roles {
		if a.Role != role {
			continue
		}
		switch role {
		case RoleClient:
			if a.ID != "" && a.ID == r.ClientID {
				return nil
			}
		case RoleProvider:
			if a.ID != "" && a.ID == r.ProviderID {
				return nil
			}
		default:
			return nil
		}
	}
	return payerr.New(payerr.Forbidden, "%s may not act on reservation %s", a, r.ID)
}

// CanView reports whether a may read r.
func CanView(r *models.Reservation, a Actor) bool {
	return authorize(r, a, RoleClient, RoleProvider, RoleAdmin, RoleSystem) == nil
}
