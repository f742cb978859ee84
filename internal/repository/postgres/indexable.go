package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/facetindex/internal/domain"
	"github.com/utafrali/facetindex/pkg/database"
	apperrors "github.com/utafrali/facetindex/pkg/errors"
)

type indexableTables struct {
	flag     string // empty for kinds without a flag
	lang     string
	idColumn string
}

var indexableTablesByKind = map[domain.EntityKind]indexableTables{
	domain.EntityAttributeGroup: {
		flag:     "layered_indexable_attribute_group",
		lang:     "layered_indexable_attribute_group_lang_value",
		idColumn: "attribute_group_id",
	},
	domain.EntityAttribute: {
		lang:     "layered_indexable_attribute_lang_value",
		idColumn: "attribute_id",
	},
	domain.EntityFeature: {
		flag:     "layered_indexable_feature",
		lang:     "layered_indexable_feature_lang_value",
		idColumn: "feature_id",
	},
	domain.EntityFeatureValue: {
		lang:     "layered_indexable_feature_value_lang_value",
		idColumn: "feature_value_id",
	},
}

func tablesFor(kind domain.EntityKind) (indexableTables, error) {
	t, ok := indexableTablesByKind[kind]
	if !ok {
		return indexableTables{}, apperrors.InvalidInput(fmt.Sprintf("unknown entity kind %q", kind))
	}
	return t, nil
}

// IndexableRepository implements repository.IndexableRepository using PostgreSQL.
type IndexableRepository struct {
	pool database.DBTX
}

// NewIndexableRepository creates a new PostgreSQL-backed indexable repository.
func NewIndexableRepository(pool database.DBTX) *IndexableRepository {
	return &IndexableRepository{pool: pool}
}

// Replace deletes and rewrites the flag and language rows of one entity.
func (r *IndexableRepository) Replace(ctx context.Context, flag *domain.IndexableFlag) error {
	t, err := tablesFor(flag.Kind)
	if err != nil {
		return err
	}

	err = database.InTx(ctx, r.pool, func(tx pgx.Tx) error {
		if t.flag != "" {
			if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`, t.flag, t.idColumn), flag.EntityID); err != nil {
				return fmt.Errorf("clear indexable flag: %w", err)
			}
			if _, err := tx.Exec(ctx,
				fmt.Sprintf(`INSERT INTO %s (%s, indexable) VALUES ($1, $2)`, t.flag, t.idColumn),
				flag.EntityID, flag.Indexable,
			); err != nil {
				return fmt.Errorf("insert indexable flag: %w", err)
			}
		}

		if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`, t.lang, t.idColumn), flag.EntityID); err != nil {
			return fmt.Errorf("clear localized values: %w", err)
		}
		if len(flag.Localized) == 0 {
			return nil
		}

		langs := make([]int64, 0, len(flag.Localized))
		for lang := range flag.Localized {
			langs = append(langs, lang)
		}
		slices.Sort(langs)
		slugs := make([]string, len(langs))
		titles := make([]string, len(langs))
		for i, lang := range langs {
			slugs[i] = flag.Localized[lang].URLSlug
			titles[i] = flag.Localized[lang].MetaTitle
		}

		query := fmt.Sprintf(`
			INSERT INTO %s (%s, lang_id, url_name, meta_title)
			SELECT $1, l.lang_id, l.url_name, l.meta_title
			FROM unnest($2::bigint[], $3::text[], $4::text[]) AS l(lang_id, url_name, meta_title)`,
			t.lang, t.idColumn)
		if _, err := tx.Exec(ctx, query, flag.EntityID, langs, slugs, titles); err != nil {
			return fmt.Errorf("insert localized values: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace %s %d: %w", flag.Kind, flag.EntityID, err)
	}
	return nil
}

// Delete removes the flag and language rows of one entity.
func (r *IndexableRepository) Delete(ctx context.Context, kind domain.EntityKind, entityID int64) error {
	t, err := tablesFor(kind)
	if err != nil {
		return err
	}

	err = database.InTx(ctx, r.pool, func(tx pgx.Tx) error {
		if t.flag != "" {
			if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`, t.flag, t.idColumn), entityID); err != nil {
				return err
			}
		}
		_, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`, t.lang, t.idColumn), entityID)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete %s %d: %w", kind, entityID, err)
	}
	return nil
}

// Get returns the stored rows of one entity. An entity without a flag row is
// indexable.
func (r *IndexableRepository) Get(ctx context.Context, kind domain.EntityKind, entityID int64) (*domain.IndexableFlag, error) {
	t, err := tablesFor(kind)
	if err != nil {
		return nil, err
	}

	flag := domain.DefaultIndexableFlag(kind, entityID)
	if t.flag != "" {
		query := fmt.Sprintf(`SELECT indexable FROM %s WHERE %s = $1`, t.flag, t.idColumn)
		err := r.pool.QueryRow(ctx, query, entityID).Scan(&flag.Indexable)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get indexable flag: %w", err)
		}
	}

	query := fmt.Sprintf(`
		SELECT lang_id, COALESCE(url_name, ''), COALESCE(meta_title, '')
		FROM %s
		WHERE %s = $1
		ORDER BY lang_id`, t.lang, t.idColumn)

	rows, err := r.pool.Query(ctx, query, entityID)
	if err != nil {
		return nil, fmt.Errorf("list localized values: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			lang int64
			meta domain.LocalizedMeta
		)
		if err := rows.Scan(&lang, &meta.URLSlug, &meta.MetaTitle); err != nil {
			return nil, fmt.Errorf("scan localized value: %w", err)
		}
		flag.Localized[lang] = meta
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate localized values: %w", err)
	}
	return flag, nil
}
