package store

import (
	"context"
	"database/sql"

	"github.com/safar/storefront/internal/models"
)

// Postgres exposes the catalog, inventory and order log functions over one
// connection pool.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) GetProducts(ctx context.Context, ids []string) (map[string]*models.Product, error) {
	return GetProducts(ctx, p.db, ids)
}

func (p *Postgres) MarkSold(ctx context.Context, productID, sessionID string) (models.Transition, error) {
	return MarkSold(ctx, p.db, productID, sessionID)
}

func (p *Postgres) OrderExists(ctx context.Context, sessionID string) (bool, error) {
	return OrderExists(ctx, p.db, sessionID)
}

func (p *Postgres) CreateOrder(ctx context.Context, order *models.Order) error {
	return CreateOrder(ctx, p.db, order)
}

func (p *Postgres) GetOrderBySession(ctx context.Context, sessionID string) (*models.Order, error) {
	return GetOrderBySession(ctx, p.db, sessionID)
}

func (p *Postgres) ListOrders(ctx context.Context, fulfillment models.Fulfillment, cursor string, limit int) (*CursorPage, error) {
	return ListOrdersCursor(ctx, p.db, fulfillment, cursor, limit)
}

func (p *Postgres) ListUnpublishedOrders(ctx context.Context, limit int) ([]*models.Order, error) {
	return ListUnpublishedOrders(ctx, p.db, limit)
}

func (p *Postgres) MarkOrderPublished(ctx context.Context, sessionID string) error {
	return MarkOrderPublished(ctx, p.db, sessionID)
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}
