// Package catalog loads the read-only product listings carts are priced from.
package catalog

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/angelmondragon/settlement/pkg/db/models"
	pkgerrors "github.com/angelmondragon/settlement/pkg/errors"
)

// Repository reads products. Nothing in the settlement path writes them.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// FindByID loads a product or returns a NOT_FOUND error.
func (r *Repository) FindByID(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	if err := r.db.WithContext(ctx).First(&product, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found").
				WithDetails(map[string]any{"product_id": id})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
	}
	return &product, nil
}

// List returns the catalog ordered by id. Featured products come first when
// featuredFirst is set, matching the storefront's landing grid.
func (r *Repository) List(ctx context.Context, featuredFirst bool) ([]models.Product, error) {
	q := r.db.WithContext(ctx).Model(&models.Product{})
	if featuredFirst {
		q = q.Order("featured DESC")
	}
	var products []models.Product
	if err := q.Order("id ASC").Find(&products).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list products")
	}
	return products, nil
}
