package ledger

import (
	"context"
	"fmt"
	"sort"

	"github.com/pkg/errors"
)

const upsertKV = `INSERT INTO %s (key, value) VALUES (?, ?)
	ON CONFLICT (key) DO UPDATE SET value = excluded.value`

func (s *Store) LoadSettings(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string)
	err := s.b.query(ctx, "SELECT key, value FROM settings", nil, func(r rowScanner) error {
		var k, v string
		if err := r.Scan(&k, &v); err != nil {
			return err
		}
		out[k] = v
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "load settings")
	}
	return out, nil
}

// SaveSettings пишет все ключи одной транзакцией.
func (s *Store) SaveSettings(ctx context.Context, kv map[string]string) error {
	if len(kv) == 0 {
		return nil
	}
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	q := fmt.Sprintf(upsertKV, "settings")
	return s.b.inTx(ctx, func(ctx context.Context, b backend) error {
		for _, k := range keys {
			if _, err := b.exec(ctx, q, k, kv[k]); err != nil {
				return errors.Wrapf(err, "save setting %s", k)
			}
		}
		return nil
	})
}

func (s *Store) GetSyncState(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.b.queryRow(ctx, "SELECT value FROM sync_state WHERE key = ?", key).Scan(&v)
	if isNoRows(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "get sync state %s", key)
	}
	return v, true, nil
}

func (s *Store) SetSyncState(ctx context.Context, key, value string) error {
	if _, err := s.b.exec(ctx, fmt.Sprintf(upsertKV, "sync_state"), key, value); err != nil {
		return errors.Wrapf(err, "set sync state %s", key)
	}
	return nil
}
