package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"

	pg "github.com/hanko-field/fulfillment/internal/platform/postgres"
	"github.com/hanko-field/fulfillment/internal/repositories"
)

// Registry wires the PostgreSQL repositories together with externally provided carts and health probes.
type Registry struct {
	pool      *pgxpool.Pool
	uow       *pg.UnitOfWork
	products  *ProductRepository
	orders    *OrderRepository
	discounts *DiscountRepository
	carts     repositories.CartRepository
	health    repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds the repository registry on top of the pool.
func NewRegistry(pool *pgxpool.Pool, carts repositories.CartRepository, health repositories.HealthRepository, txOpts ...pg.TxOption) (*Registry, error) {
	if pool == nil {
		return nil, errors.New("registry: pool is required")
	}
	if carts == nil {
		return nil, errors.New("registry: cart repository is required")
	}
	products, _ := NewProductRepository(pool)
	orders, _ := NewOrderRepository(pool)
	discounts, _ := NewDiscountRepository(pool)
	return &Registry{
		pool:      pool,
		uow:       pg.NewUnitOfWork(pool, txOpts...),
		products:  products,
		orders:    orders,
		discounts: discounts,
		carts:     carts,
		health:    health,
	}, nil
}

func (r *Registry) Close(context.Context) error {
	r.pool.Close()
	return nil
}

func (r *Registry) Products() repositories.ProductRepository   { return r.products }
func (r *Registry) Orders() repositories.OrderRepository       { return r.orders }
func (r *Registry) Discounts() repositories.DiscountRepository { return r.discounts }
func (r *Registry) Carts() repositories.CartRepository         { return r.carts }
func (r *Registry) Health() repositories.HealthRepository      { return r.health }

func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.uow.RunInTx(ctx, fn)
}
