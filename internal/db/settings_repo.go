package db

import (
	"context"
	"encoding/json"
	"time"

	"sphyra/internal/types"
)

// SettingsRepository is the key/value settings store. Values are JSONB so a
// key keeps its original type (number, boolean, string).
type SettingsRepository struct {
	db DBTX
}

// NewSettingsRepository creates a new SettingsRepository.
func NewSettingsRepository(db DBTX) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// GetValues returns the raw JSON value of each requested key that exists.
// Missing keys are absent from the map.
func (r *SettingsRepository) GetValues(ctx context.Context, keys []string) (map[string]json.RawMessage, error) {
	rows, err := r.db.Query(ctx,
		`SELECT key, value FROM settings WHERE key = ANY($1)`,
		keys,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read settings", err)
	}
	defer rows.Close()

	out := make(map[string]json.RawMessage, len(keys))
	for rows.Next() {
		var (
			key   string
			value []byte
		)
		if err := rows.Scan(&key, &value); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan setting row", err)
		}
		out[key] = json.RawMessage(value)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating setting rows", err)
	}
	return out, nil
}

// UpsertValues writes all given keys in a single statement.
func (r *SettingsRepository) UpsertValues(ctx context.Context, values map[string]any, now time.Time) error {
	keys := make([]string, 0, len(values))
	encoded := make([]string, 0, len(values))
	for k, v := range values {
		b, err := json.Marshal(v)
		if err != nil {
			return types.NewAppError(types.ErrCodeValidationInvalidSettings, "setting value is not serializable", err).
				WithDetails(map[string]any{"key": k})
		}
		keys = append(keys, k)
		encoded = append(encoded, string(b))
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO settings (key, value, updated_at)
		 SELECT k, v::jsonb, $3
		   FROM unnest($1::text[], $2::text[]) AS t(k, v)
		 ON CONFLICT (key) DO UPDATE
		   SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		keys, encoded, now,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to write settings", err)
	}
	return nil
}
