package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"webcall/internal/kvstore"
	"webcall/pkg/logger"
)

// StorageKey is the fixed key holding the JSON-encoded Set.
const StorageKey = "webcall.credentials"

// Classification is the outcome of Load.
type Classification string

const (
	Absent     Classification = "absent"
	Valid      Classification = "valid"
	Incomplete Classification = "incomplete"
)

var ErrNilBackend = errors.New("credentials: backend is nil")

// Store persists one Set in a client-local key-value backend.
//
// The secret is stored in plaintext, exactly as entered.
type Store struct {
	kv  kvstore.Store
	log *slog.Logger
}

func NewStore(kv kvstore.Store, log *slog.Logger) (*Store, error) {
	if kv == nil {
		return nil, ErrNilBackend
	}
	return &Store{kv: kv, log: logger.Component(log, "credentials")}, nil
}

// Load reads the persisted set.
//
// A set containing the placeholder, a complete set failing ValidateFormat, or
// an undecodable value is cleared and reported as Absent. A set with missing
// fields is returned as Incomplete.
func (s *Store) Load(ctx context.Context) (Set, Classification, error) {
	raw, ok, err := s.kv.Get(ctx, StorageKey)
	if err != nil {
		return Set{}, Absent, fmt.Errorf("credentials: load: %w", err)
	}
	if !ok || raw == "" {
		return Set{}, Absent, nil
	}

	var set Set
	if err := json.Unmarshal([]byte(raw), &set); err != nil {
		s.log.Warn("stored credentials undecodable, clearing", "err", err)
		return Set{}, Absent, s.Clear(ctx)
	}

	if set.HasPlaceholder() {
		s.log.Warn("stored credentials contain placeholder values, clearing")
		return Set{}, Absent, s.Clear(ctx)
	}
	if !set.Complete() {
		return set, Incomplete, nil
	}
	if !ValidateFormat(set) {
		s.log.Warn("stored credentials have an invalid format, clearing", "account_id", set.AccountID)
		return Set{}, Absent, s.Clear(ctx)
	}
	return set, Valid, nil
}

// Save persists the four fields verbatim.
func (s *Store) Save(ctx context.Context, set Set) error {
	raw, err := json.Marshal(set)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, StorageKey, string(raw)); err != nil {
		return fmt.Errorf("credentials: save: %w", err)
	}
	s.log.Debug("credentials saved", "account_id", set.AccountID, "api_key_id", set.APIKeyID)
	return nil
}

// Clear removes the persisted set.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.kv.Delete(ctx, StorageKey); err != nil {
		return fmt.Errorf("credentials: clear: %w", err)
	}
	return nil
}
