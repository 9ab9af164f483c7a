package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domain "github.com/hanko-field/fulfillment/internal/domain"
	pg "github.com/hanko-field/fulfillment/internal/platform/postgres"
	"github.com/hanko-field/fulfillment/internal/repositories"
)

const productColumns = `id, name, price, stock_quantity, updated_at`

// ProductRepository implements repositories.ProductRepository on PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

// NewProductRepository constructs a ProductRepository.
func NewProductRepository(pool *pgxpool.Pool) (*ProductRepository, error) {
	if pool == nil {
		return nil, errors.New("product repository: pool is required")
	}
	return &ProductRepository{pool: pool}, nil
}

func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	row := pg.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, productID)
	product, err := scanProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Product{}, repositories.NewProductNotFoundError("products.find", productID)
	}
	if err != nil {
		return domain.Product{}, pg.WrapError("products.find", err)
	}
	return product, nil
}

func (r *ProductRepository) FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(productIDs))
	if len(productIDs) == 0 {
		return result, nil
	}
	rows, err := pg.Conn(ctx, r.pool).Query(ctx, `SELECT `+productColumns+` FROM products WHERE id = ANY($1)`, productIDs)
	if err != nil {
		return nil, pg.WrapError("products.find_many", err)
	}
	defer rows.Close()
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, pg.WrapError("products.find_many", err)
		}
		result[product.ID] = product
	}
	if err := rows.Err(); err != nil {
		return nil, pg.WrapError("products.find_many", err)
	}
	return result, nil
}

func (r *ProductRepository) Deduct(ctx context.Context, productID string, quantity int) (domain.Product, error) {
	const op = "products.deduct"
	if quantity <= 0 {
		return domain.Product{}, &repositories.InventoryError{Op: op, Code: repositories.InventoryErrorInvalidQuantity, ProductID: productID, Requested: quantity}
	}

	row := pg.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE products
		SET stock_quantity = stock_quantity - $2, updated_at = now()
		WHERE id = $1 AND stock_quantity >= $2
		RETURNING `+productColumns, productID, quantity)
	product, err := scanProduct(row)
	if err == nil {
		return product, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Product{}, pg.WrapError(op, err)
	}

	current, err := r.FindByID(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return domain.Product{}, repositories.NewInsufficientStockError(op, productID, quantity, current.StockQuantity)
}

func (r *ProductRepository) Restock(ctx context.Context, productID string, quantity int) (domain.Product, error) {
	const op = "products.restock"
	if quantity <= 0 {
		return domain.Product{}, &repositories.InventoryError{Op: op, Code: repositories.InventoryErrorInvalidQuantity, ProductID: productID, Requested: quantity}
	}
	return r.updateStock(ctx, op, productID, `stock_quantity + $2`, quantity)
}

func (r *ProductRepository) SetStock(ctx context.Context, productID string, quantity int) (domain.Product, error) {
	const op = "products.set_stock"
	if quantity < 0 {
		return domain.Product{}, &repositories.InventoryError{Op: op, Code: repositories.InventoryErrorInvalidQuantity, ProductID: productID, Requested: quantity}
	}
	return r.updateStock(ctx, op, productID, `$2`, quantity)
}

func (r *ProductRepository) updateStock(ctx context.Context, op, productID, expr string, quantity int) (domain.Product, error) {
	row := pg.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE products
		SET stock_quantity = `+expr+`, updated_at = now()
		WHERE id = $1
		RETURNING `+productColumns, productID, quantity)
	product, err := scanProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Product{}, repositories.NewProductNotFoundError(op, productID)
	}
	if err != nil {
		return domain.Product{}, pg.WrapError(op, err)
	}
	return product, nil
}

// InsertProduct seeds a product row. Used by tooling and integration tests.
func (r *ProductRepository) InsertProduct(ctx context.Context, product domain.Product) error {
	_, err := pg.Conn(ctx, r.pool).Exec(ctx,
		`INSERT INTO products (id, name, price, stock_quantity) VALUES ($1, $2, $3, $4)`,
		product.ID, product.Name, product.Price, product.StockQuantity)
	return pg.WrapError("products.insert", err)
}

func scanProduct(row pgx.Row) (domain.Product, error) {
	var product domain.Product
	err := row.Scan(&product.ID, &product.Name, &product.Price, &product.StockQuantity, &product.UpdatedAt)
	product.UpdatedAt = product.UpdatedAt.UTC()
	return product, err
}
