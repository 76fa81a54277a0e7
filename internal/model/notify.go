package model

import "time"

// RoleChange is the outbound notification emitted whenever an identity's role
// changes. Delivery (chat message, dashboard push) is the collaborator's
// concern; the core only produces the event.
type RoleChange struct {
	Identity string    `json:"identity"`
	OldRole  Role      `json:"old_role"`
	NewRole  Role      `json:"new_role"`
	Reason   string    `json:"reason"`
	At       time.Time `json:"at"`
}

// QuotaExceeded is emitted when an increment is rejected because the
// identity's daily ceiling is reached.
type QuotaExceeded struct {
	Identity string    `json:"identity"`
	Used     int       `json:"used"`
	Limit    int       `json:"limit"`
	At       time.Time `json:"at"`
}
