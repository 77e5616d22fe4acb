package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vladislavdragonenkov/shopsync/internal/domain"
)

type catalogRepository struct {
	store *Store
}

// NewCatalogRepository создаёт PostgreSQL-реализацию CatalogRepository.
func NewCatalogRepository(store *Store) domain.CatalogRepository {
	return &catalogRepository{store: store}
}

func (r *catalogRepository) UpsertCollection(ctx context.Context, collection domain.Collection, parentID string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	parent := sql.NullString{String: parentID, Valid: parentID != ""}
	_, err := r.store.executor(ctx).ExecContext(ctx, `
		INSERT INTO collections (id, slug, name, is_root, parent_id)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO UPDATE
		SET slug = EXCLUDED.slug,
		    name = EXCLUDED.name,
		    is_root = EXCLUDED.is_root,
		    parent_id = EXCLUDED.parent_id
	`, collection.ID, collection.Slug, collection.Name, collection.IsRoot, parent)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.ErrCollectionNotFound
		}
		return fmt.Errorf("upsert collection: %w", err)
	}
	return nil
}

func (r *catalogRepository) LinkProduct(ctx context.Context, productID string, collectionIDs []string) error {
	return r.store.WithinTx(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, opTimeout)
		defer cancel()

		exec := r.store.executor(ctx)
		if _, err := exec.ExecContext(ctx, `DELETE FROM product_collections WHERE product_id = $1`, productID); err != nil {
			return fmt.Errorf("clear product collections: %w", err)
		}

		for position, collectionID := range collectionIDs {
			if _, err := exec.ExecContext(ctx, `
				INSERT INTO product_collections (product_id, collection_id, position)
				VALUES ($1,$2,$3)
			`, productID, collectionID, position); err != nil {
				if isForeignKeyViolation(err) {
					return domain.ErrCollectionNotFound
				}
				return fmt.Errorf("link product collection: %w", err)
			}
		}
		return nil
	})
}

func (r *catalogRepository) CollectionsForProduct(ctx context.Context, productID string) ([]domain.Collection, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.store.executor(ctx).QueryContext(ctx, `
		SELECT c.id, c.slug, c.name, c.is_root, p.id, p.slug, p.name, p.is_root
		FROM product_collections pc
		JOIN collections c ON c.id = pc.collection_id
		LEFT JOIN collections p ON p.id = c.parent_id
		WHERE pc.product_id = $1
		ORDER BY pc.position ASC
	`, productID)
	if err != nil {
		return nil, fmt.Errorf("list product collections: %w", err)
	}
	defer rows.Close()

	collections := make([]domain.Collection, 0)
	for rows.Next() {
		var (
			c          domain.Collection
			parentID   sql.NullString
			parentSlug sql.NullString
			parentName sql.NullString
			parentRoot sql.NullBool
		)
		if err := rows.Scan(&c.ID, &c.Slug, &c.Name, &c.IsRoot, &parentID, &parentSlug, &parentName, &parentRoot); err != nil {
			return nil, fmt.Errorf("scan collection: %w", err)
		}
		if parentID.Valid && !parentRoot.Bool {
			c.Parent = &domain.Collection{ID: parentID.String, Slug: parentSlug.String, Name: parentName.String}
		}
		collections = append(collections, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate collections: %w", err)
	}

	return collections, nil
}

var _ domain.CatalogRepository = (*catalogRepository)(nil)
