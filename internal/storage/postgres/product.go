package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/coupon-engine/internal/domain/coupon"
	"github.com/xenking/coupon-engine/internal/domain/product"
)

const (
	getProductsByIDsSQL = `SELECT p.id, p.name, p.price,
		COALESCE(array_agg(pc.category_id ORDER BY pc.category_id)
			FILTER (WHERE pc.category_id IS NOT NULL), '{}')
		FROM products p
		LEFT JOIN product_categories pc ON pc.product_id = p.id
		WHERE p.id = ANY($1)
		GROUP BY p.id
		ORDER BY p.id`

	categoriesForProductsSQL = `SELECT product_id, array_agg(category_id ORDER BY category_id)
		FROM product_categories
		WHERE product_id = ANY($1)
		GROUP BY product_id`

	upsertCategorySQL = `INSERT INTO categories (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`

	upsertProductSQL = `INSERT INTO products (id, name, price) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, price = EXCLUDED.price`

	deleteProductCategoriesSQL = `DELETE FROM product_categories WHERE product_id = $1`

	insertProductCategorySQL = `INSERT INTO product_categories (product_id, category_id) VALUES ($1, $2)`

	// Keeps the sequences ahead of explicitly seeded ids.
	syncCatalogSequencesSQL = `SELECT
		setval(pg_get_serial_sequence('categories', 'id'), GREATEST((SELECT MAX(id) FROM categories), 1)),
		setval(pg_get_serial_sequence('products', 'id'), GREATEST((SELECT MAX(id) FROM products), 1))`
)

var (
	_ product.Repository    = (*ProductRepository)(nil)
	_ coupon.CategoryLookup = (*ProductRepository)(nil)
)

// ProductRepository implements product.Repository and coupon.CategoryLookup
// backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// GetByIDs returns products matching any of the given IDs with their
// category memberships.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []int64) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products by ids")
	}
	return pgx.CollectRows(rows, scanProduct)
}

// CategoriesForProducts maps each product id to its category ids. Products
// without categories are absent from the result.
func (r *ProductRepository) CategoriesForProducts(ctx context.Context, ids []int64) (map[int64][]int64, error) {
	out := make(map[int64][]int64, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := r.pool.Query(ctx, categoriesForProductsSQL, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get product categories")
	}
	var (
		productID  int64
		categories []int64
	)
	_, err = pgx.ForEachRow(rows, []any{&productID, &categories}, func() error {
		out[productID] = categories
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "scan product categories")
	}
	return out, nil
}

// UpsertCategory creates or renames a category with an explicit id.
func (r *ProductRepository) UpsertCategory(ctx context.Context, id int64, name string) error {
	if _, err := r.pool.Exec(ctx, upsertCategorySQL, id, name); err != nil {
		return errors.Wrapf(err, "upsert category %d", id)
	}
	return nil
}

// Upsert creates or updates a product and replaces its category memberships.
func (r *ProductRepository) Upsert(ctx context.Context, p product.Product) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		b := &pgx.Batch{}
		b.Queue(upsertProductSQL, p.ID, p.Name, p.Price)
		b.Queue(deleteProductCategoriesSQL, p.ID)
		for _, categoryID := range p.CategoryIDs {
			b.Queue(insertProductCategorySQL, p.ID, categoryID)
		}
		if err := tx.SendBatch(ctx, b).Close(); err != nil {
			return errors.Wrapf(err, "upsert product %d", p.ID)
		}
		return nil
	})
}

// SyncSequences advances id sequences past explicitly inserted rows.
func (r *ProductRepository) SyncSequences(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, syncCatalogSequencesSQL); err != nil {
		return errors.Wrap(err, "sync catalog sequences")
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var (
		p     product.Product
		price decimal.Decimal
	)
	err := row.Scan(&p.ID, &p.Name, &price, &p.CategoryIDs)
	p.Price = price
	return p, err
}
