// Package identity resolves user references against the identity provider's
// directory. The engine never mutates identity state; it only checks that a
// participant exists and whether the account is active.
package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// Identity describes one resolved user reference.
type Identity struct {
	Exists bool
	Active bool
}

// Resolver looks up user references. Implementations must be side-effect free.
type Resolver interface {
	Resolve(ctx context.Context, userID string) (Identity, error)
}

// StaticResolver resolves from a fixed in-memory directory. Used in tests and
// single-tenant deployments without an identity database.
type StaticResolver map[string]bool

// Resolve implements Resolver. The map value flags whether the user is active.
func (r StaticResolver) Resolve(_ context.Context, userID string) (Identity, error) {
	active, ok := r[strings.TrimSpace(userID)]
	if !ok {
		return Identity{}, nil
	}
	return Identity{Exists: true, Active: active}, nil
}

// DirectoryResolver reads the identity provider's user table from a read-only
// SQLite attachment.
type DirectoryResolver struct {
	sqlDB *sql.DB
}

// OpenDirectory opens a read-only resolver over the identity database.
func OpenDirectory(path string) (*DirectoryResolver, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("identity db path is required")
	}
	dsn := filepath.Clean(path) + "?mode=ro&_pragma=busy_timeout(5000)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open identity db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping identity db: %w", err)
	}
	return &DirectoryResolver{sqlDB: sqlDB}, nil
}

// Close closes the directory handle.
func (r *DirectoryResolver) Close() error {
	if r == nil || r.sqlDB == nil {
		return nil
	}
	return r.sqlDB.Close()
}

// Resolve implements Resolver against the identity provider's users table.
func (r *DirectoryResolver) Resolve(ctx context.Context, userID string) (Identity, error) {
	if r == nil || r.sqlDB == nil {
		return Identity{}, fmt.Errorf("identity directory is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Identity{}, nil
	}

	var active int
	row := r.sqlDB.QueryRowContext(
		ctx,
		`SELECT is_active FROM users WHERE id = ?`,
		userID,
	)
	if err := row.Scan(&active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Identity{}, nil
		}
		return Identity{}, fmt.Errorf("resolve user %s: %w", userID, err)
	}
	return Identity{Exists: true, Active: active != 0}, nil
}

var (
	_ Resolver = (StaticResolver)(nil)
	_ Resolver = (*DirectoryResolver)(nil)
)
