package model

import "time"

// Role classifies an identity's current standing in the access registry.
// An identity holds exactly one role at any instant; RoleUnknown means the
// registry has no record of the identity at all.
type Role string

const (
	RoleUnknown     Role = "unknown"
	RolePending     Role = "pending"
	RoleWhitelisted Role = "whitelisted"
	RoleAdmin       Role = "admin"
	RoleSuperAdmin  Role = "super_admin"
	RoleBlacklisted Role = "blacklisted"
)

// Valid reports whether r is one of the defined roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUnknown, RolePending, RoleWhitelisted, RoleAdmin, RoleSuperAdmin, RoleBlacklisted:
		return true
	}
	return false
}

// IsAdmin reports whether the role carries administrative privileges.
func (r Role) IsAdmin() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// RestrictionKind distinguishes temporary bans from permanent ones.
type RestrictionKind string

const (
	RestrictionTemporary RestrictionKind = "temporary"
	RestrictionPermanent RestrictionKind = "permanent"
)

// Profile carries the display fields a collaborator knows about an identity
// when it first contacts the gateway.
type Profile struct {
	Label     string `json:"label"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Member is the single registry record for an identity. The Role tag decides
// which of the role-specific field groups is meaningful; the store keeps one
// row per identity so role mutual-exclusivity is a primary-key fact rather
// than application discipline.
type Member struct {
	Identity  string `json:"identity" db:"identity"`
	Role      Role   `json:"role" db:"role"`
	Label     string `json:"label" db:"label"`
	FirstName string `json:"first_name,omitempty" db:"first_name"`
	LastName  string `json:"last_name,omitempty" db:"last_name"`

	// Admin fields
	IsSuperAdmin bool       `json:"is_super_admin,omitempty" db:"is_super_admin"`
	PromotedBy   string     `json:"promoted_by,omitempty" db:"promoted_by"`
	PromotedAt   *time.Time `json:"promoted_at,omitempty" db:"promoted_at"`

	// Whitelist fields
	ApprovedBy string     `json:"approved_by,omitempty" db:"approved_by"`
	ApprovedAt *time.Time `json:"approved_at,omitempty" db:"approved_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty" db:"expires_at"` // nil = unlimited

	// Blacklist fields
	RestrictionKind RestrictionKind `json:"restriction_kind,omitempty" db:"restriction_kind"`
	RestrictionEnd  *time.Time      `json:"restriction_end,omitempty" db:"restriction_end"` // nil when permanent
	RestrictedBy    string          `json:"restricted_by,omitempty" db:"restricted_by"`
	RestrictedAt    *time.Time      `json:"restricted_at,omitempty" db:"restricted_at"`

	// Pending fields
	RequestedAt *time.Time `json:"requested_at,omitempty" db:"requested_at"`
	NotifyRef   string     `json:"notify_ref,omitempty" db:"notify_ref"` // opaque collaborator token

	// Version is bumped on every mutation and checked by compare-and-swap
	// writes; a mismatch means the row changed since it was read.
	Version   int64     `json:"version" db:"version"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// EffectiveRole maps the stored role tag to the caller-visible role,
// splitting the super admin out of the admin set.
func (m *Member) EffectiveRole() Role {
	if m.Role == RoleAdmin && m.IsSuperAdmin {
		return RoleSuperAdmin
	}
	return m.Role
}
