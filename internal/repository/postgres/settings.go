package postgres

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/utafrali/facetindex/internal/domain"
	"github.com/utafrali/facetindex/pkg/database"
)

// SettingsRepository implements repository.SettingsRepository using PostgreSQL.
type SettingsRepository struct {
	pool database.DBTX
}

// NewSettingsRepository creates a new PostgreSQL-backed settings repository.
func NewSettingsRepository(pool database.DBTX) *SettingsRepository {
	return &SettingsRepository{pool: pool}
}

// Get loads every stored setting. Missing names take their default.
func (r *SettingsRepository) Get(ctx context.Context) (domain.Settings, error) {
	rows, err := r.pool.Query(ctx, `SELECT name, value FROM layered_settings`)
	if err != nil {
		return domain.Settings{}, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return domain.Settings{}, fmt.Errorf("scan setting: %w", err)
		}
		values[name] = value
	}
	if err := rows.Err(); err != nil {
		return domain.Settings{}, fmt.Errorf("iterate settings: %w", err)
	}

	s, err := domain.SettingsFromValues(values)
	if err != nil {
		return domain.Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	return s, nil
}

// Save upserts every admin-editable setting in one statement.
func (r *SettingsRepository) Save(ctx context.Context, s domain.Settings) error {
	values := s.Values()
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	slices.Sort(names)
	vals := make([]string, len(names))
	for i, name := range names {
		vals[i] = values[name]
	}

	query := `
		INSERT INTO layered_settings (name, value, updated_at)
		SELECT s.name, s.value, NOW()
		FROM unnest($1::text[], $2::text[]) AS s(name, value)
		ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`

	if _, err := r.pool.Exec(ctx, query, names, vals); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// SetIndexed records whether the price index is complete.
func (r *SettingsRepository) SetIndexed(ctx context.Context, indexed bool) error {
	query := `
		INSERT INTO layered_settings (name, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`

	if _, err := r.pool.Exec(ctx, query, domain.SettingIndexed, strconv.FormatBool(indexed)); err != nil {
		return fmt.Errorf("set indexed flag: %w", err)
	}
	return nil
}
