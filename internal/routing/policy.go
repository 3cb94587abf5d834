// Package routing decides which role pairs may exchange direct messages.
// It is a pure rule set with no store access so it can be evaluated both for
// new conversations and re-evaluated against roles persisted on a thread.
package routing

import "github.com/keyhaven/messaging-service/internal/models"

type Reason string

const (
	ReasonAllowed        Reason = ""
	ReasonInvalidPair    Reason = "INVALID_PAIR"
	ReasonRoutingBlocked Reason = "ROUTING_BLOCKED"
)

type Decision struct {
	Allowed bool
	Reason  Reason
}

// Allow evaluates an unordered role pair.
//
// Buyers and sellers must not contact each other directly; an agent brokers
// that relationship. Admins may message anyone.
func Allow(a, b models.Role) Decision {
	if !valid(a) || !valid(b) {
		return Decision{Allowed: false, Reason: ReasonInvalidPair}
	}
	if a == models.RoleAdmin || b == models.RoleAdmin {
		return Decision{Allowed: true}
	}
	if a == models.RoleAgent || b == models.RoleAgent {
		if a == b {
			// agent to agent is not a marketplace conversation
			return Decision{Allowed: false, Reason: ReasonRoutingBlocked}
		}
		return Decision{Allowed: true}
	}
	// remaining pairs are buyer/seller combinations
	return Decision{Allowed: false, Reason: ReasonRoutingBlocked}
}

// AllowThread re-validates a persisted thread from its snapshotted participant
// roles. Roles are frozen at creation time, so a thread created before a role
// change could hold a pair that the current policy rejects.
func AllowThread(t *models.Thread) Decision {
	roles := t.Roles()
	if len(roles) != 2 {
		return Decision{Allowed: false, Reason: ReasonInvalidPair}
	}
	return Allow(roles[0], roles[1])
}

func valid(r models.Role) bool {
	switch r {
	case models.RoleBuyer, models.RoleSeller, models.RoleAgent, models.RoleAdmin:
		return true
	}
	return false
}
