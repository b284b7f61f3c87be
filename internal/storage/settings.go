package storage

import (
	"context"
)

// GetByKey implements domain.SettingsStore.
func (s *Store) GetByKey(ctx context.Context, key string) (string, bool, error) {
	return getSetting(ctx, s.db, s.dialect, key)
}

func getSetting(ctx context.Context, q queryer, dialect Dialect, key string) (string, bool, error) {
	var value string
	err := q.QueryRowContext(ctx, rebind(dialect, `SELECT value FROM settings WHERE name = ?`), key).Scan(&value)
	if err != nil {
		if isNoRows(err) {
			return "", false, nil
		}
		return "", false, depErr("storage.settings.get", err)
	}
	return value, true, nil
}

// SetSetting inserts or replaces a setting.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO settings (name, value) VALUES (?, ?)
		 ON CONFLICT (name) DO UPDATE SET value = excluded.value`), key, value)
	if err != nil {
		return depErr("storage.settings.set", err)
	}
	return nil
}

// ListSettings returns all settings keyed by name.
func (s *Store) ListSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, value FROM settings ORDER BY name`)
	if err != nil {
		return nil, depErr("storage.settings.list", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, depErr("storage.settings.list", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}
