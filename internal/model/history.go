package model

import "time"

// History event action kinds. The ledger is append-only; these names are part
// of the stored record and must stay stable.
const (
	ActionRequested         = "requested"
	ActionApproved          = "approved"
	ActionRejected          = "rejected"
	ActionPromoted          = "promoted"
	ActionDemoted           = "demoted"
	ActionRestricted        = "restricted"
	ActionUnrestricted      = "unrestricted"
	ActionExpirationSet     = "expiration_set"
	ActionExpired           = "expired"
	ActionRestrictionLifted = "restriction_lifted"
	ActionQuotaLimitSet     = "quota_limit_set"
)

// History event outcome statuses.
const (
	StatusSuccess = "success"
	StatusExpired = "expired"
	StatusLifted  = "lifted"
)

// HistoryEvent is one entry in the append-only audit ledger. Every registry
// mutation commits exactly one of these in the same transaction.
type HistoryEvent struct {
	ID        int64     `json:"id" db:"id"`
	Identity  string    `json:"identity" db:"identity"`
	Label     string    `json:"label" db:"label"`
	Role      Role      `json:"role" db:"role"` // role at the time of the action
	Action    string    `json:"action" db:"action"`
	Status    string    `json:"status" db:"status"`
	HandledBy string    `json:"handled_by,omitempty" db:"handled_by"` // acting admin, if any
	Details   string    `json:"details,omitempty" db:"details"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
