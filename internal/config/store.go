package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/esap-cc/shortlinker/internal/core"
	"github.com/esap-cc/shortlinker/internal/storage"
	"github.com/esap-cc/shortlinker/pkg/password"
)

// Redacted replaces sensitive values in history records and listings.
const Redacted = "[REDACTED]"

// AdminTokenFile receives the generated plaintext admin token on first
// startup, created with 0600 and create-new semantics.
const AdminTokenFile = "admin_token.txt"

// Item is one configuration row with its metadata.
type Item struct {
	Key             string    `json:"key"`
	Value           string    `json:"value"`
	Type            ValueType `json:"value_type"`
	RequiresRestart bool      `json:"requires_restart"`
	IsSensitive     bool      `json:"is_sensitive"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// UpdateResult tells the caller whether a reload or restart should be
// offered after a successful set.
type UpdateResult struct {
	Key             string  `json:"key"`
	Value           string  `json:"value"`
	RequiresRestart bool    `json:"requires_restart"`
	IsSensitive     bool    `json:"is_sensitive"`
	OldValue        *string `json:"old_value,omitempty"`
	Changed         bool    `json:"changed"`
}

// HistoryEntry is one audit record. Sensitive values arrive masked.
type HistoryEntry struct {
	ID        int64     `json:"id"`
	Key       string    `json:"config_key"`
	OldValue  *string   `json:"old_value,omitempty"`
	NewValue  string    `json:"new_value"`
	ChangedAt time.Time `json:"changed_at"`
	ChangedBy *string   `json:"changed_by,omitempty"`
}

// Store persists configuration in the system_config table. All writes
// are validated against the code-defined schema; unknown keys are
// rejected.
type Store struct {
	backend *storage.Backend
	db      *sql.DB
	logger  *slog.Logger
}

// NewStore binds a config store to the storage backend.
func NewStore(backend *storage.Backend, logger *slog.Logger) *Store {
	return &Store{
		backend: backend,
		db:      backend.DB(),
		logger:  logger,
	}
}

func (s *Store) rebind(q string) string {
	return s.backend.Dialect().Rebind(q)
}

// Get returns the raw value for a key, or a not-found error.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	item, err := s.GetFull(ctx, key)
	if err != nil {
		return "", err
	}
	return item.Value, nil
}

// GetFull returns the value plus metadata.
func (s *Store) GetFull(ctx context.Context, key string) (*Item, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		"SELECT config_key, value, value_type, requires_restart, is_sensitive, updated_at FROM system_config WHERE config_key = ?"), key)

	var item Item
	var vt string
	err := row.Scan(&item.Key, &item.Value, &vt, &item.RequiresRestart, &item.IsSensitive, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NewNotFoundError("config key not found: " + key)
	}
	if err != nil {
		return nil, core.NewTransientStorageError("failed to query config", err)
	}
	item.Type = ValueType(vt)
	item.UpdatedAt = item.UpdatedAt.UTC()
	return &item, nil
}

// GetAll returns every persisted configuration row keyed by name.
func (s *Store) GetAll(ctx context.Context) (map[string]*Item, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT config_key, value, value_type, requires_restart, is_sensitive, updated_at FROM system_config")
	if err != nil {
		return nil, core.NewTransientStorageError("failed to query all config", err)
	}
	defer rows.Close()

	out := make(map[string]*Item)
	for rows.Next() {
		var item Item
		var vt string
		if err := rows.Scan(&item.Key, &item.Value, &vt, &item.RequiresRestart, &item.IsSensitive, &item.UpdatedAt); err != nil {
			return nil, core.NewPermanentStorageError("failed to scan config row", err)
		}
		item.Type = ValueType(vt)
		item.UpdatedAt = item.UpdatedAt.UTC()
		out[item.Key] = &item
	}
	return out, rows.Err()
}

// Set validates and updates one key, recording the change in the
// history table within the same transaction. Setting the current value
// again is a no-op that writes no history.
func (s *Store) Set(ctx context.Context, key, value string) (*UpdateResult, error) {
	def, ok := GetDef(key)
	if !ok {
		return nil, core.NewNotFoundError("unknown config key: " + key)
	}
	if !def.Editable {
		return nil, core.NewValidationError("config key is not editable: " + key)
	}
	if err := ValidateValue(def, value); err != nil {
		return nil, core.NewValidationError(err.Error())
	}

	existing, err := s.GetFull(ctx, key)
	if err != nil {
		return nil, err
	}

	if existing.Value == value {
		old := existing.Value
		return &UpdateResult{
			Key:             key,
			Value:           value,
			RequiresRestart: existing.RequiresRestart,
			IsSensitive:     existing.IsSensitive,
			OldValue:        &old,
			Changed:         false,
		}, nil
	}

	// Sensitive admin-token writes store the hash, never the plaintext.
	stored := value
	if key == KeyAdminToken && !password.IsHashed(value) {
		stored, err = password.Hash(value)
		if err != nil {
			return nil, core.NewInternalError("failed to hash admin token", err)
		}
	}

	histOld, histNew := maskSensitive(def, existing.Value, stored)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, core.NewTransientStorageError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, s.rebind(
		"UPDATE system_config SET value = ?, updated_at = ? WHERE config_key = ?"),
		stored, now, key); err != nil {
		return nil, core.NewTransientStorageError("failed to update config", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(
		"INSERT INTO config_history (config_key, old_value, new_value, changed_at) VALUES (?, ?, ?, ?)"),
		key, histOld, histNew, now); err != nil {
		return nil, core.NewTransientStorageError("failed to record config history", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, core.NewTransientStorageError("failed to commit config update", err)
	}

	old := existing.Value
	s.logger.Info("Config updated",
		"key", key,
		"requires_restart", existing.RequiresRestart,
	)
	return &UpdateResult{
		Key:             key,
		Value:           stored,
		RequiresRestart: existing.RequiresRestart,
		IsSensitive:     existing.IsSensitive,
		OldValue:        &old,
		Changed:         true,
	}, nil
}

// Reset restores a key to its schema default.
func (s *Store) Reset(ctx context.Context, key string) (*UpdateResult, error) {
	def, ok := GetDef(key)
	if !ok {
		return nil, core.NewNotFoundError("unknown config key: " + key)
	}
	return s.Set(ctx, key, def.Default())
}

// History returns the most recent change records for a key.
func (s *Store) History(ctx context.Context, key string, limit int) ([]HistoryEntry, error) {
	if limit < 1 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(
		"SELECT id, config_key, old_value, new_value, changed_at, changed_by FROM config_history WHERE config_key = ? ORDER BY id DESC LIMIT ?"),
		key, limit)
	if err != nil {
		return nil, core.NewTransientStorageError("failed to query config history", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var oldValue, changedBy sql.NullString
		if err := rows.Scan(&e.ID, &e.Key, &oldValue, &e.NewValue, &e.ChangedAt, &changedBy); err != nil {
			return nil, core.NewPermanentStorageError("failed to scan history row", err)
		}
		if oldValue.Valid {
			e.OldValue = &oldValue.String
		}
		if changedBy.Valid {
			e.ChangedBy = &changedBy.String
		}
		e.ChangedAt = e.ChangedAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// EnsureDefaults seeds missing keys atomically (insert-if-not-exists, so
// concurrent startups cannot race) and syncs metadata columns to the
// code-side schema. Values themselves are never overwritten.
func (s *Store) EnsureDefaults(ctx context.Context) error {
	insertQuery := s.rebind(
		"INSERT INTO system_config (config_key, value, value_type, requires_restart, is_sensitive, updated_at) VALUES (?, ?, ?, ?, ?, ?) " +
			s.backend.Dialect().ConfigInsertIgnoreClause())

	now := time.Now().UTC()
	for i := range Defs {
		def := &Defs[i]
		value := def.Default()

		seed := true
		if def.Key == KeyAdminToken && value != "" {
			hashed, err := s.bootstrapAdminToken(ctx, value)
			if err != nil {
				return err
			}
			// Empty hash means the token already exists in the DB; keep
			// it and only sync metadata below.
			value = hashed
			seed = value != ""
		}

		if seed {
			res, err := s.db.ExecContext(ctx, insertQuery,
				def.Key, value, string(def.Type), def.RequiresRestart, def.IsSensitive, now)
			if err != nil {
				return core.NewTransientStorageError("failed to seed config default: "+def.Key, err)
			}
			if n, err := res.RowsAffected(); err == nil && n > 0 {
				s.logger.Info("Seeded config default", "key", def.Key)
			}
		}

		// Metadata follows the code-side definition even for old rows.
		if _, err := s.db.ExecContext(ctx, s.rebind(
			"UPDATE system_config SET value_type = ?, requires_restart = ?, is_sensitive = ? WHERE config_key = ?"),
			string(def.Type), def.RequiresRestart, def.IsSensitive, def.Key); err != nil {
			return core.NewTransientStorageError("failed to sync config metadata: "+def.Key, err)
		}
	}
	return nil
}

// bootstrapAdminToken handles the first-startup admin token: the fresh
// plaintext goes to AdminTokenFile with O_EXCL (no symlink clobbering),
// and only the argon2id hash is stored. When the key already exists the
// generated token is discarded and "" is returned.
func (s *Store) bootstrapAdminToken(ctx context.Context, plaintext string) (string, error) {
	_, err := s.Get(ctx, KeyAdminToken)
	if err == nil {
		return "", nil
	}
	if !core.IsNotFound(err) {
		return "", err
	}

	f, err := os.OpenFile(AdminTokenFile, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return "", core.NewInternalError(
				fmt.Sprintf("refusing to overwrite existing %s", AdminTokenFile), err)
		}
		return "", core.NewInternalError("failed to write admin token file", err)
	}
	_, werr := f.WriteString(plaintext + "\n")
	cerr := f.Close()
	if werr != nil || cerr != nil {
		return "", core.NewInternalError("failed to write admin token file", errors.Join(werr, cerr))
	}

	hashed, err := password.Hash(plaintext)
	if err != nil {
		return "", core.NewInternalError("failed to hash admin token", err)
	}
	s.logger.Info("Generated initial admin token", "file", AdminTokenFile)
	return hashed, nil
}

// maskSensitive prepares history values, masking sensitive keys.
func maskSensitive(def *Def, oldValue, newValue string) (any, string) {
	if def.IsSensitive {
		return Redacted, Redacted
	}
	return oldValue, newValue
}
