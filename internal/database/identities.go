package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"classwatch/pkg/interfaces"
	"classwatch/pkg/types"
)

// CreateIdentity stores a new identity and its credential hash in one
// transaction.
func (m *Manager) CreateIdentity(ctx context.Context, identity *types.Identity, secretHash []byte) error {
	if err := identity.Validate(); err != nil {
		return err
	}

	return m.executeWrite(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("%w: failed to begin transaction: %v", interfaces.ErrStoreUnavailable, err)
		}
		defer func() { _ = tx.Rollback() }()

		if identity.CreatedAt.IsZero() {
			identity.CreatedAt = time.Now().UTC()
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO identities (id, login_name, display_name, role, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, identity.ID, identity.LoginName, identity.DisplayName, string(identity.Role), identity.CreatedAt)
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE") {
				return fmt.Errorf("%w: %q", interfaces.ErrDuplicateLogin, identity.LoginName)
			}
			return fmt.Errorf("%w: failed to insert identity: %v", interfaces.ErrStoreUnavailable, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO credentials (identity_id, secret_hash) VALUES (?, ?)
		`, identity.ID, secretHash)
		if err != nil {
			return fmt.Errorf("%w: failed to insert credential: %v", interfaces.ErrStoreUnavailable, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("%w: failed to commit identity creation: %v", interfaces.ErrStoreUnavailable, err)
		}
		return nil
	})
}

// GetIdentity returns ErrNotFound when the identity record is absent.
func (m *Manager) GetIdentity(ctx context.Context, id string) (*types.Identity, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT id, login_name, display_name, role, created_at
		FROM identities WHERE id = ?
	`, id)
	return scanIdentity(row)
}

// GetIdentityByLogin returns the identity and its credential hash.
func (m *Manager) GetIdentityByLogin(ctx context.Context, loginName string) (*types.Identity, []byte, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT i.id, i.login_name, i.display_name, i.role, i.created_at, c.secret_hash
		FROM identities i
		JOIN credentials c ON c.identity_id = i.id
		WHERE i.login_name = ?
	`, loginName)

	var identity types.Identity
	var role string
	var hash []byte
	err := row.Scan(&identity.ID, &identity.LoginName, &identity.DisplayName, &role, &identity.CreatedAt, &hash)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, interfaces.ErrNotFound
		}
		return nil, nil, fmt.Errorf("%w: failed to query identity: %v", interfaces.ErrStoreUnavailable, err)
	}
	identity.Role = types.Role(role)

	return &identity, hash, nil
}

// ListIdentities returns all identities ordered by login name.
func (m *Manager) ListIdentities(ctx context.Context) ([]*types.Identity, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, login_name, display_name, role, created_at
		FROM identities ORDER BY login_name
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query identities: %v", interfaces.ErrStoreUnavailable, err)
	}
	defer func() { _ = rows.Close() }()

	var identities []*types.Identity
	for rows.Next() {
		identity, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		identities = append(identities, identity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: error iterating identity rows: %v", interfaces.ErrStoreUnavailable, err)
	}
	return identities, nil
}

// UpdateRole changes an identity's role. The change takes effect on the next
// authorization decision; in-flight decisions are not revisited.
func (m *Manager) UpdateRole(ctx context.Context, id string, role types.Role) error {
	if !role.IsValid() {
		return types.ErrInvalidRole
	}

	return m.executeWrite(func(db *sql.DB) error {
		result, err := db.ExecContext(ctx, `UPDATE identities SET role = ? WHERE id = ?`, string(role), id)
		if err != nil {
			return fmt.Errorf("%w: failed to update role: %v", interfaces.ErrStoreUnavailable, err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("%w: failed to read update result: %v", interfaces.ErrStoreUnavailable, err)
		}
		if rows == 0 {
			return interfaces.ErrNotFound
		}
		return nil
	})
}

// DeleteIdentity removes the identity record. The credential row goes with it
// (ON DELETE CASCADE), so deletion also revokes the credential.
func (m *Manager) DeleteIdentity(ctx context.Context, id string) error {
	return m.executeWrite(func(db *sql.DB) error {
		result, err := db.ExecContext(ctx, `DELETE FROM identities WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("%w: failed to delete identity: %v", interfaces.ErrStoreUnavailable, err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("%w: failed to read delete result: %v", interfaces.ErrStoreUnavailable, err)
		}
		if rows == 0 {
			return interfaces.ErrNotFound
		}
		return nil
	})
}

func scanIdentity(row rowScanner) (*types.Identity, error) {
	var identity types.Identity
	var role string
	err := row.Scan(&identity.ID, &identity.LoginName, &identity.DisplayName, &role, &identity.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("%w: failed to query identity: %v", interfaces.ErrStoreUnavailable, err)
	}
	identity.Role = types.Role(role)
	return &identity, nil
}
