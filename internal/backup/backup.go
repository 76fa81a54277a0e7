// Package backup exports and imports the registry's membership sets as a
// YAML snapshot, for migration between deployments and disaster recovery.
// Quota counters and the audit ledger are deliberately not part of the
// snapshot: counters are ephemeral daily state and the ledger is append-only
// history that belongs to the deployment it was written in.
package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gateward/gateward/internal/model"
	"github.com/gateward/gateward/internal/store"
)

// Snapshot is the on-disk backup format.
type Snapshot struct {
	Version    int            `yaml:"version"`
	ExportedAt time.Time      `yaml:"exported_at"`
	Members    []MemberRecord `yaml:"members"`
}

// MemberRecord is one membership entry in a snapshot. Only the fields
// meaningful for the entry's role are populated.
type MemberRecord struct {
	Identity  string `yaml:"identity"`
	Role      string `yaml:"role"`
	Label     string `yaml:"label,omitempty"`
	FirstName string `yaml:"first_name,omitempty"`
	LastName  string `yaml:"last_name,omitempty"`

	IsSuperAdmin bool       `yaml:"is_super_admin,omitempty"`
	PromotedBy   string     `yaml:"promoted_by,omitempty"`
	PromotedAt   *time.Time `yaml:"promoted_at,omitempty"`

	ApprovedBy string     `yaml:"approved_by,omitempty"`
	ApprovedAt *time.Time `yaml:"approved_at,omitempty"`
	ExpiresAt  *time.Time `yaml:"expires_at,omitempty"`

	RestrictionKind string     `yaml:"restriction_kind,omitempty"`
	RestrictionEnd  *time.Time `yaml:"restriction_end,omitempty"`
	RestrictedBy    string     `yaml:"restricted_by,omitempty"`
	RestrictedAt    *time.Time `yaml:"restricted_at,omitempty"`

	RequestedAt *time.Time `yaml:"requested_at,omitempty"`
}

// snapshotVersion is bumped when the format changes incompatibly.
const snapshotVersion = 1

// Export reads every registry record into a Snapshot.
func Export(ctx context.Context, st *store.Store) (*Snapshot, error) {
	members, err := st.ListAllMembers(ctx)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Version:    snapshotVersion,
		ExportedAt: time.Now().UTC(),
		Members:    make([]MemberRecord, 0, len(members)),
	}
	for i := range members {
		snap.Members = append(snap.Members, toRecord(&members[i]))
	}
	return snap, nil
}

// ImportResult summarizes what an import did.
type ImportResult struct {
	Created int
	Skipped int
}

// Import restores a snapshot's entries into the registry. Identities that
// already exist are skipped, never overwritten: an import is additive and
// safe to re-run. No audit events are written; the entries' history belongs
// to the deployment the snapshot came from.
func Import(ctx context.Context, st *store.Store, snap *Snapshot) (ImportResult, error) {
	if snap.Version != snapshotVersion {
		return ImportResult{}, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}

	var res ImportResult
	for i := range snap.Members {
		m, err := fromRecord(&snap.Members[i])
		if err != nil {
			return res, err
		}
		err = st.CreateMember(ctx, m, nil)
		switch {
		case err == nil:
			res.Created++
		case errors.Is(err, store.ErrDuplicate):
			res.Skipped++
		default:
			return res, fmt.Errorf("import %s: %w", m.Identity, err)
		}
	}
	return res, nil
}

// WriteFile marshals a snapshot to path.
func WriteFile(path string, snap *Snapshot) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create backup file: %w", err)
	}
	defer f.Close()

	if err := Write(f, snap); err != nil {
		return err
	}
	return f.Close()
}

// Write marshals a snapshot to w.
func Write(w io.Writer, snap *Snapshot) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return enc.Close()
}

// ReadFile unmarshals a snapshot from path.
func ReadFile(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open backup file: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// Read unmarshals a snapshot from r.
func Read(r io.Reader) (*Snapshot, error) {
	var snap Snapshot
	if err := yaml.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

func toRecord(m *model.Member) MemberRecord {
	return MemberRecord{
		Identity:        m.Identity,
		Role:            string(m.Role),
		Label:           m.Label,
		FirstName:       m.FirstName,
		LastName:        m.LastName,
		IsSuperAdmin:    m.IsSuperAdmin,
		PromotedBy:      m.PromotedBy,
		PromotedAt:      m.PromotedAt,
		ApprovedBy:      m.ApprovedBy,
		ApprovedAt:      m.ApprovedAt,
		ExpiresAt:       m.ExpiresAt,
		RestrictionKind: string(m.RestrictionKind),
		RestrictionEnd:  m.RestrictionEnd,
		RestrictedBy:    m.RestrictedBy,
		RestrictedAt:    m.RestrictedAt,
		RequestedAt:     m.RequestedAt,
	}
}

func fromRecord(rec *MemberRecord) (*model.Member, error) {
	role := model.Role(rec.Role)
	if !role.Valid() || role == model.RoleUnknown || role == model.RoleSuperAdmin {
		return nil, fmt.Errorf("invalid role %q for identity %s", rec.Role, rec.Identity)
	}
	return &model.Member{
		Identity:        rec.Identity,
		Role:            role,
		Label:           rec.Label,
		FirstName:       rec.FirstName,
		LastName:        rec.LastName,
		IsSuperAdmin:    rec.IsSuperAdmin,
		PromotedBy:      rec.PromotedBy,
		PromotedAt:      rec.PromotedAt,
		ApprovedBy:      rec.ApprovedBy,
		ApprovedAt:      rec.ApprovedAt,
		ExpiresAt:       rec.ExpiresAt,
		RestrictionKind: model.RestrictionKind(rec.RestrictionKind),
		RestrictionEnd:  rec.RestrictionEnd,
		RestrictedBy:    rec.RestrictedBy,
		RestrictedAt:    rec.RestrictedAt,
		RequestedAt:     rec.RequestedAt,
	}, nil
}
