package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/facetindex/internal/domain"
	"github.com/utafrali/facetindex/pkg/database"
	apperrors "github.com/utafrali/facetindex/pkg/errors"
)

// TemplateRepository implements repository.TemplateRepository using PostgreSQL.
type TemplateRepository struct {
	pool database.DBTX
}

// NewTemplateRepository creates a new PostgreSQL-backed template repository.
func NewTemplateRepository(pool database.DBTX) *TemplateRepository {
	return &TemplateRepository{pool: pool}
}

const templateSelect = `
		SELECT f.id, f.name, f.priority, f.filters, f.created_at, f.updated_at,
			COALESCE(array_agg(s.shop_id ORDER BY s.shop_id) FILTER (WHERE s.shop_id IS NOT NULL), '{}') AS shops
		FROM layered_filter f
		LEFT JOIN layered_filter_shop s ON s.filter_id = f.id`

const templateOrder = ` ORDER BY f.priority DESC, f.created_at DESC, f.id DESC`

// Create inserts a template and its shop associations in one transaction.
func (r *TemplateRepository) Create(ctx context.Context, rec *domain.TemplateRecord) error {
	err := database.InTx(ctx, r.pool, func(tx pgx.Tx) error {
		query := `
			INSERT INTO layered_filter (name, priority, filters, n_categories)
			VALUES ($1, $2, $3, COALESCE(jsonb_array_length($3::jsonb->'categories'), 0))
			RETURNING id, created_at, updated_at`

		if err := tx.QueryRow(ctx, query, rec.Name, rec.Priority, rec.Filters).
			Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return fmt.Errorf("insert template: %w", err)
		}
		return insertTemplateShops(ctx, tx, rec.ID, rec.Shops)
	})
	if err != nil {
		return fmt.Errorf("create template: %w", err)
	}
	return nil
}

// Update replaces a template's fields and shop associations.
func (r *TemplateRepository) Update(ctx context.Context, rec *domain.TemplateRecord) error {
	err := database.InTx(ctx, r.pool, func(tx pgx.Tx) error {
		query := `
			UPDATE layered_filter
			SET name = $2, priority = $3, filters = $4,
				n_categories = COALESCE(jsonb_array_length($4::jsonb->'categories'), 0),
				updated_at = NOW()
			WHERE id = $1
			RETURNING created_at, updated_at`

		err := tx.QueryRow(ctx, query, rec.ID, rec.Name, rec.Priority, rec.Filters).
			Scan(&rec.CreatedAt, &rec.UpdatedAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperrors.NotFound("template", rec.ID)
			}
			return fmt.Errorf("update template: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM layered_filter_shop WHERE filter_id = $1`, rec.ID); err != nil {
			return fmt.Errorf("clear template shops: %w", err)
		}
		return insertTemplateShops(ctx, tx, rec.ID, rec.Shops)
	})
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return err
		}
		return fmt.Errorf("update template %d: %w", rec.ID, err)
	}
	return nil
}

func insertTemplateShops(ctx context.Context, tx pgx.Tx, id int64, shops []int64) error {
	if len(shops) == 0 {
		return nil
	}
	query := `
		INSERT INTO layered_filter_shop (filter_id, shop_id)
		SELECT $1, s FROM unnest($2::bigint[]) AS s
		ON CONFLICT DO NOTHING`
	if _, err := tx.Exec(ctx, query, id, shops); err != nil {
		return fmt.Errorf("insert template shops: %w", err)
	}
	return nil
}

// UpdatePayload replaces only the stored facet document of a template.
func (r *TemplateRepository) UpdatePayload(ctx context.Context, id int64, filters []byte) error {
	query := `
		UPDATE layered_filter
		SET filters = $2,
			n_categories = COALESCE(jsonb_array_length($2::jsonb->'categories'), 0),
			updated_at = NOW()
		WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query, id, filters)
	if err != nil {
		return fmt.Errorf("update template payload: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("template", id)
	}
	return nil
}

// Delete removes a template. Shop associations cascade.
func (r *TemplateRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM layered_filter WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("template", id)
	}
	return nil
}

// GetByID retrieves a template by its identifier.
func (r *TemplateRepository) GetByID(ctx context.Context, id int64) (*domain.TemplateRecord, error) {
	query := templateSelect + ` WHERE f.id = $1 GROUP BY f.id`

	rec, err := scanTemplate(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("template", id)
		}
		return nil, fmt.Errorf("get template by id: %w", err)
	}
	return rec, nil
}

// List returns one page of templates in processing order and the total count.
func (r *TemplateRepository) List(ctx context.Context, offset, limit int) ([]domain.TemplateRecord, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM layered_filter`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count templates: %w", err)
	}

	query := templateSelect + ` GROUP BY f.id` + templateOrder + ` LIMIT $1 OFFSET $2`
	records, err := r.query(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list templates: %w", err)
	}
	return records, total, nil
}

// ListAll returns every template in processing order.
func (r *TemplateRepository) ListAll(ctx context.Context) ([]domain.TemplateRecord, error) {
	records, err := r.query(ctx, templateSelect+` GROUP BY f.id`+templateOrder)
	if err != nil {
		return nil, fmt.Errorf("list all templates: %w", err)
	}
	return records, nil
}

func (r *TemplateRepository) query(ctx context.Context, query string, args ...any) ([]domain.TemplateRecord, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.TemplateRecord
	for rows.Next() {
		rec, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

func scanTemplate(row pgx.Row) (*domain.TemplateRecord, error) {
	var rec domain.TemplateRecord
	err := row.Scan(
		&rec.ID,
		&rec.Name,
		&rec.Priority,
		&rec.Filters,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&rec.Shops,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
