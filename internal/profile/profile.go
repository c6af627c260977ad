// Package profile is the messaging core's view of the marketplace profile
// service. It resolves user ids to display identities with an explicit,
// authoritative role.
package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/cfolink/internal/messaging"
)

// Store reads profiles from the marketplace database.
type Store struct {
	db *sql.DB
}

// NewStore creates a profile store over an open database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Lookup returns the display identity for a user, or messaging.ErrNotFound.
func (s *Store) Lookup(ctx context.Context, userID string) (*messaging.UserInfo, error) {
	info := &messaging.UserInfo{}
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, display_name, COALESCE(avatar_url, ''), role
		FROM profiles
		WHERE user_id = $1
	`, userID).Scan(&info.UserID, &info.DisplayName, &info.AvatarURL, &info.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, messaging.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile %s: %w", userID, err)
	}
	return info, nil
}

// StaticDirectory is an in-memory user directory for dev mode and tests.
type StaticDirectory struct {
	mu       sync.RWMutex
	profiles map[string]messaging.UserInfo
}

// NewStaticDirectory creates an empty static directory.
func NewStaticDirectory() *StaticDirectory {
	return &StaticDirectory{profiles: make(map[string]messaging.UserInfo)}
}

// Add registers or replaces a profile.
func (d *StaticDirectory) Add(info messaging.UserInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.profiles[info.UserID] = info
}

// Lookup returns the profile, or messaging.ErrNotFound.
func (d *StaticDirectory) Lookup(_ context.Context, userID string) (*messaging.UserInfo, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	info, ok := d.profiles[userID]
	if !ok {
		return nil, messaging.ErrNotFound
	}
	return &info, nil
}
