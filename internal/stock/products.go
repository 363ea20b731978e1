package stock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"orderproc/internal/models"

	"github.com/jmoiron/sqlx"
)

// Catalog is the admin-facing product/stock CRUD surface. Mutations
// here are outside the hot path's concurrency contract and use plain
// last-write-wins semantics (spec.md §6).
type Catalog struct {
	db    *sqlx.DB
	cache *Cache // optional read-through cache for catalog browsing, may be nil
}

// NewCatalog constructs a Catalog backed by Postgres. cache may be nil;
// when present, ListProductsWithStock reads the quantity/version
// snapshot through it instead of the row it just joined, falling back
// to the Postgres value on a cache miss.
func NewCatalog(db *sqlx.DB, cache *Cache) *Catalog {
	return &Catalog{db: db, cache: cache}
}

// CreateProduct inserts a product and its initial stock row in one
// transaction so every product always has a matching stock record.
func (c *Catalog) CreateProduct(ctx context.Context, name, description string, price int64, initialQuantity int) (*models.Product, *models.Stock, error) {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	var product models.Product
	err = tx.GetContext(ctx, &product, `
		INSERT INTO products (name, description, price)
		VALUES ($1, $2, $3)
		RETURNING *`, name, description, price)
	if err != nil {
		return nil, nil, fmt.Errorf("insert product: %w", err)
	}

	var st models.Stock
	err = tx.GetContext(ctx, &st, `
		INSERT INTO stocks (product_id, quantity, initial_quantity, version)
		VALUES ($1, $2, $2, 0)
		RETURNING *`, product.ID, initialQuantity)
	if err != nil {
		return nil, nil, fmt.Errorf("insert stock: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return &product, &st, nil
}

// ListProducts returns every product without its stock snapshot, for
// GET /products.
func (c *Catalog) ListProducts(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	err := c.db.SelectContext(ctx, &products, `SELECT * FROM products ORDER BY id`)
	return products, err
}

// GetProduct retrieves a product by ID.
func (c *Catalog) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	var p models.Product
	err := c.db.GetContext(ctx, &p, `SELECT * FROM products WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	return &p, err
}

// UpdateProduct overwrites mutable product fields, last-write-wins.
func (c *Catalog) UpdateProduct(ctx context.Context, id int64, name, description string, price int64) error {
	_, err := c.db.ExecContext(ctx, `
		UPDATE products SET name = $1, description = $2, price = $3, updated_at = now()
		WHERE id = $4`, name, description, price, id)
	return err
}

// ProductWithStock pairs a product with its current stock snapshot for
// catalog-browsing responses.
type ProductWithStock struct {
	Product models.Product `json:"product"`
	Stock   models.Stock   `json:"stock"`
}

// ListProductsWithStock supports GET /products-with-stock.
func (c *Catalog) ListProductsWithStock(ctx context.Context) ([]ProductWithStock, error) {
	rows, err := c.db.QueryxContext(ctx, `
		SELECT p.id, p.name, p.description, p.price, p.created_at, p.updated_at,
		       s.id AS stock_id, s.quantity, s.initial_quantity, s.version, s.updated_at AS stock_updated_at
		FROM products p
		JOIN stocks s ON s.product_id = p.id
		ORDER BY p.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ProductWithStock
	for rows.Next() {
		var pws ProductWithStock
		if err := rows.Scan(
			&pws.Product.ID, &pws.Product.Name, &pws.Product.Description, &pws.Product.Price,
			&pws.Product.CreatedAt, &pws.Product.UpdatedAt,
			&pws.Stock.ID, &pws.Stock.Quantity, &pws.Stock.InitialQuantity, &pws.Stock.Version, &pws.Stock.UpdatedAt,
		); err != nil {
			return nil, err
		}
		pws.Stock.ProductID = pws.Product.ID
		out = append(out, pws)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if c.cache != nil {
		for i := range out {
			if q, v, ok, err := c.cache.GetSnapshot(ctx, out[i].Stock.ID); err == nil && ok {
				out[i].Stock.Quantity = q
				out[i].Stock.Version = v
			}
		}
	}
	return out, nil
}

// AdjustStock is an operator-only quantity override (e.g. restocking),
// distinct from Reserve/Release: it does not participate in the order
// saga and does not need CAS since it is not racing concurrent orders
// in the intended usage, but it still advances version for auditability.
// initial_quantity moves by the same delta so reconciliation continues
// to reflect operator-adjusted stock, not just the CAS hot path.
func (c *Catalog) AdjustStock(ctx context.Context, stockID int64, newQuantity int) (*models.Stock, error) {
	var st models.Stock
	err := c.db.GetContext(ctx, &st, `
		UPDATE stocks
		SET initial_quantity = initial_quantity + ($1 - quantity),
		    quantity = $1,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $2
		RETURNING *`, newQuantity, stockID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err == nil && c.cache != nil {
		_ = c.cache.SetSnapshot(ctx, &st)
	}
	return &st, err
}

// GetStockByProductID looks up the stock row backing a product.
func (c *Catalog) GetStockByProductID(ctx context.Context, productID int64) (*models.Stock, error) {
	var st models.Stock
	err := c.db.GetContext(ctx, &st, `SELECT * FROM stocks WHERE product_id = $1`, productID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &st, err
}

// GetStockByID looks up a stock row directly, the lookup order
// submission uses since the client supplies stockId (spec.md §6).
func (c *Catalog) GetStockByID(ctx context.Context, stockID int64) (*models.Stock, error) {
	var st models.Stock
	err := c.db.GetContext(ctx, &st, `SELECT * FROM stocks WHERE id = $1`, stockID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &st, err
}
