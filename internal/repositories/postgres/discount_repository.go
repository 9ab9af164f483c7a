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

const discountColumns = `id, code, type, value, min_purchase, usage_limit, per_user, used,
	start_date, end_date, status, product_ids, created_at, updated_at`

// DiscountRepository implements repositories.DiscountRepository on PostgreSQL.
type DiscountRepository struct {
	pool *pgxpool.Pool
}

var _ repositories.DiscountRepository = (*DiscountRepository)(nil)

// NewDiscountRepository constructs a DiscountRepository.
func NewDiscountRepository(pool *pgxpool.Pool) (*DiscountRepository, error) {
	if pool == nil {
		return nil, errors.New("discount repository: pool is required")
	}
	return &DiscountRepository{pool: pool}, nil
}

func (r *DiscountRepository) FindByID(ctx context.Context, discountID string) (domain.Discount, error) {
	row := pg.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+discountColumns+` FROM discounts WHERE id = $1`, discountID)
	discount, err := scanDiscount(row)
	return discount, pg.WrapError("discounts.find", err)
}

func (r *DiscountRepository) FindByCode(ctx context.Context, code string) (domain.Discount, error) {
	row := pg.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+discountColumns+` FROM discounts WHERE code = $1`, code)
	discount, err := scanDiscount(row)
	return discount, pg.WrapError("discounts.find_by_code", err)
}

func (r *DiscountRepository) HasUsage(ctx context.Context, discountID, userID string) (bool, error) {
	var exists bool
	err := pg.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM discount_usages WHERE discount_id = $1 AND user_id = $2)`,
		discountID, userID).Scan(&exists)
	if err != nil {
		return false, pg.WrapError("discounts.has_usage", err)
	}
	return exists, nil
}

func (r *DiscountRepository) InsertUsage(ctx context.Context, usage domain.DiscountUsage) error {
	const op = "discounts.insert_usage"
	_, err := pg.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO discount_usages (id, discount_id, user_id, order_id, session_id, per_user, used_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		usage.ID, usage.DiscountID, usage.UserID, usage.OrderID, usage.SessionID, usage.PerUser, usage.UsedAt)
	if err == nil {
		return nil
	}
	if pg.IsUniqueViolation(err, constraintPerUserUsage) {
		return repositories.NewDiscountUsageError(op, repositories.DiscountUsageErrorAlreadyUsed, usage.DiscountID, err)
	}
	return pg.WrapError(op, err)
}

func (r *DiscountRepository) IncrementUsed(ctx context.Context, discountID string) (int, error) {
	const op = "discounts.increment_used"
	conn := pg.Conn(ctx, r.pool)

	var used int
	err := conn.QueryRow(ctx, `
		UPDATE discounts
		SET used = used + 1, updated_at = now()
		WHERE id = $1 AND (usage_limit = 0 OR used < usage_limit)
		RETURNING used`, discountID).Scan(&used)
	if err == nil {
		return used, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, pg.WrapError(op, err)
	}

	var exists bool
	if err := conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM discounts WHERE id = $1)`, discountID).Scan(&exists); err != nil {
		return 0, pg.WrapError(op, err)
	}
	if !exists {
		return 0, repositories.NewDiscountUsageError(op, repositories.DiscountUsageErrorNotFound, discountID, nil)
	}
	return 0, repositories.NewDiscountUsageError(op, repositories.DiscountUsageErrorLimitReached, discountID, nil)
}

// InsertDiscount seeds a discount row. Used by tooling and integration tests.
func (r *DiscountRepository) InsertDiscount(ctx context.Context, discount domain.Discount) error {
	productIDs := discount.ProductIDs
	if productIDs == nil {
		productIDs = []string{}
	}
	_, err := pg.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO discounts (id, code, type, value, min_purchase, usage_limit, per_user, used, start_date, end_date, status, product_ids)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		discount.ID, discount.Code, string(discount.Type), discount.Value, discount.MinPurchase,
		discount.UsageLimit, discount.PerUser, discount.Used, discount.StartDate, discount.EndDate,
		string(discount.Status), productIDs)
	return pg.WrapError("discounts.insert", err)
}

func scanDiscount(row pgx.Row) (domain.Discount, error) {
	var (
		discount     domain.Discount
		discountType string
		status       string
	)
	err := row.Scan(
		&discount.ID, &discount.Code, &discountType, &discount.Value, &discount.MinPurchase,
		&discount.UsageLimit, &discount.PerUser, &discount.Used, &discount.StartDate, &discount.EndDate,
		&status, &discount.ProductIDs, &discount.CreatedAt, &discount.UpdatedAt,
	)
	if err != nil {
		return domain.Discount{}, err
	}
	discount.Type = domain.DiscountType(discountType)
	discount.Status = domain.DiscountStatus(status)
	return discount, nil
}
