package repository

import (
	"context"
	"fmt"

	"github.com/lakhoreJanvi/product-importer-project/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// upsertColumns are overwritten when a case-folded SKU already exists.
var upsertColumns = []string{"name", "description", "price", "active", "updated_at"}

type GormProductRepository struct {
	db *gorm.DB
}

func NewGormProductRepository(db *gorm.DB) *GormProductRepository {
	return &GormProductRepository{db: db}
}

// UpsertBatch writes the batch as one INSERT ... ON CONFLICT (lower(sku))
// statement inside a transaction. Callers must not pass two products with
// the same case-folded SKU; Postgres rejects a statement that would update
// one row twice.
func (r *GormProductRepository) UpsertBatch(ctx context.Context, products []models.Product) (int64, error) {
	if len(products) == 0 {
		return 0, nil
	}

	var affected int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "lower(sku)", Raw: true}},
			DoUpdates: clause.AssignmentColumns(upsertColumns),
		}).Create(&products)
		if res.Error != nil {
			return res.Error
		}
		affected = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("upsert %d products: %w", len(products), err)
	}
	return affected, nil
}
