package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/gridmon/internal/domain/model"
)

// SnapshotRepository — снимки сводок в таблице summary_snapshots.
// Снимок хранится целиком как JSONB; ключ — CacheKey.String().
type SnapshotRepository struct {
	db DBTX
}

// NewSnapshotRepository создаёт репозиторий снимков.
func NewSnapshotRepository(db DBTX) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// Load возвращает неистёкший снимок по ключу.
// ErrNotFound — снимка нет или он истёк; ErrCorrupt — payload не разбирается.
func (r *SnapshotRepository) Load(ctx context.Context, key string) (*model.Snapshot, error) {
	var payload []byte
	err := r.db.QueryRow(ctx,
		`SELECT payload FROM summary_snapshots WHERE cache_key = $1 AND expires_at > now()`,
		key,
	).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения снимка: %w", err)
	}

	snap := &model.Snapshot{}
	if err := json.Unmarshal(payload, snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if snap.Key.String() != key {
		return nil, fmt.Errorf("%w: ключ %q не совпадает с %q", ErrCorrupt, snap.Key.String(), key)
	}
	return snap, nil
}

// Save сохраняет снимок, заменяя предыдущий с тем же ключом.
func (r *SnapshotRepository) Save(ctx context.Context, key string, snap *model.Snapshot, expiresAt time.Time) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("ошибка сериализации снимка: %w", err)
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO summary_snapshots (cache_key, snapshot_id, payload, generated_at, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (cache_key) DO UPDATE SET
			snapshot_id = EXCLUDED.snapshot_id,
			payload = EXCLUDED.payload,
			generated_at = EXCLUDED.generated_at,
			expires_at = EXCLUDED.expires_at,
			updated_at = now()`,
		key, snap.ID, payload, snap.GeneratedAt, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка сохранения снимка: %w", err)
	}
	return nil
}

// DeleteAll удаляет все снимки.
func (r *SnapshotRepository) DeleteAll(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM summary_snapshots`); err != nil {
		return fmt.Errorf("ошибка очистки снимков: %w", err)
	}
	return nil
}

// DeleteExpired удаляет истёкшие снимки, возвращает число удалённых.
func (r *SnapshotRepository) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM summary_snapshots WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("ошибка удаления истёкших снимков: %w", err)
	}
	return tag.RowsAffected(), nil
}
