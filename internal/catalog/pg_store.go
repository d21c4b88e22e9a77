package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	storeerrors "github.com/abgdnv/storefront/internal/errors"
)

const productColumns = `id::text, name, image_ref, price::text, stock_quantity, version`

// PgStore implements ProductStore using PostgreSQL as the data store.
type PgStore struct {
	db *pgxpool.Pool
}

// NewPgStore creates a new instance of ProductStore using a PostgreSQL connection pool.
func NewPgStore(dbp *pgxpool.Pool) *PgStore {
	return &PgStore{db: dbp}
}

// FindByID retrieves a product by its unique identifier.
// Returns ErrProductNotFound if no product exists with the given ID.
func (p *PgStore) FindByID(ctx context.Context, id string) (*Product, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, storeerrors.ErrProductNotFound
	}
	row := p.db.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	product, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storeerrors.ErrProductNotFound
		}
		return nil, fmt.Errorf("%w: %v", storeerrors.ErrFailedToFindProducts, err)
	}
	return product, nil
}

// FindAll retrieves all available products with pagination support.
func (p *PgStore) FindAll(ctx context.Context, offset, limit int32) ([]Product, error) {
	rows, err := p.db.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY name, id OFFSET $1 LIMIT $2`, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storeerrors.ErrFailedToFindProducts, err)
	}
	defer rows.Close()

	products := make([]Product, 0)
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", storeerrors.ErrFailedToFindProducts, err)
		}
		products = append(products, *product)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", storeerrors.ErrFailedToFindProducts, err)
	}
	return products, nil
}

// Create inserts a product and returns it with its generated id.
func (p *PgStore) Create(ctx context.Context, name, imageRef string, price decimal.Decimal, stock int32) (*Product, error) {
	row := p.db.QueryRow(ctx,
		`INSERT INTO products (name, image_ref, price, stock_quantity) VALUES ($1, $2, $3::numeric, $4) RETURNING `+productColumns,
		name, imageRef, price.String(), stock)
	product, err := scanProduct(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create product: %w", err)
	}
	return product, nil
}

func scanProduct(row pgx.Row) (*Product, error) {
	var product Product
	var price string
	if err := row.Scan(&product.ID, &product.Name, &product.ImageRef, &price, &product.Stock, &product.Version); err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("invalid price %q: %w", price, err)
	}
	product.Price = d
	return &product, nil
}
