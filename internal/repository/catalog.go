package repository

import (
	"context"
	"fmt"

	"github.com/mmeshcher/storefront/internal/model"
)

// FindPricesAndStock возвращает актуальные цены и остатки товаров вместе с вариантами.
// Отсутствующие товары в результат не попадают.
func (r *PostgresRepository) FindPricesAndStock(ctx context.Context, productIDs []int64) (map[int64]model.CatalogProduct, error) {
	res := make(map[int64]model.CatalogProduct, len(productIDs))
	if len(productIDs) == 0 {
		return res, nil
	}

	err := r.withRetry(ctx, func(ctx context.Context) error {
		clear(res)

		rows, err := r.pool.Query(ctx,
			`SELECT id, name, image_url, price, currency, stock
			 FROM products
			 WHERE id = ANY($1)`,
			productIDs,
		)
		if err != nil {
			return fmt.Errorf("select products: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var p model.CatalogProduct
			if err := rows.Scan(&p.ID, &p.Name, &p.ImageURL, &p.Price, &p.Currency, &p.Stock); err != nil {
				return fmt.Errorf("scan product: %w", err)
			}
			p.Variants = make(map[int64]model.CatalogVariant)
			res[p.ID] = p
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows error: %w", err)
		}

		vrows, err := r.pool.Query(ctx,
			`SELECT id, product_id, name, stock
			 FROM product_variants
			 WHERE product_id = ANY($1)`,
			productIDs,
		)
		if err != nil {
			return fmt.Errorf("select variants: %w", err)
		}
		defer vrows.Close()

		for vrows.Next() {
			var (
				v         model.CatalogVariant
				productID int64
			)
			if err := vrows.Scan(&v.ID, &productID, &v.Name, &v.Stock); err != nil {
				return fmt.Errorf("scan variant: %w", err)
			}
			if p, ok := res[productID]; ok {
				p.Variants[v.ID] = v
			}
		}
		if err := vrows.Err(); err != nil {
			return fmt.Errorf("rows error: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, classify(err)
	}

	return res, nil
}
