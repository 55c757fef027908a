package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
	"github.com/safar/storefront/internal/store"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store keeps products and orders in two collections. Orders use the checkout
// session id as _id, so the primary key index enforces one order per session.
type Store struct {
	db       *mongo.Database
	products *mongo.Collection
	orders   *mongo.Collection
}

func Connect(ctx context.Context, uri, database string) (*mongo.Database, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(100).
		SetMinPoolSize(10)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		// ctx may already be spent by the failed ping.
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if dErr := client.Disconnect(disconnectCtx); dErr != nil {
			return nil, fmt.Errorf("ping mongodb: %w (disconnect: %v)", err, dErr)
		}
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	return client.Database(database), nil
}

func New(db *mongo.Database) *Store {
	return &Store{
		db:       db,
		products: db.Collection("products"),
		orders:   db.Collection("orders"),
	}
}

func (s *Store) CreateIndexes(ctx context.Context) error {
	_, err := s.products.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "status", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("create product indexes: %w", err)
	}

	_, err = s.orders.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "created_at", Value: -1}, {Key: "order_id", Value: -1}}},
		{Keys: bson.D{{Key: "fulfillment", Value: 1}, {Key: "created_at", Value: -1}}},
		{
			Keys:    bson.D{{Key: "order_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	})
	if err != nil {
		return fmt.Errorf("create order indexes: %w", err)
	}

	return nil
}

func (s *Store) CreateProduct(ctx context.Context, id, name string, priceCents int64, status models.ProductStatus) (*models.Product, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("create product: invalid status %q", status)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	product := &models.Product{
		ID:         id,
		Name:       name,
		PriceCents: priceCents,
		Status:     status,
		CreatedAt:  now,
		UpdatedAt:  now,
		Version:    1,
	}

	if _, err := s.products.InsertOne(ctx, product); err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}

	return product, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	var product models.Product
	err := s.products.FindOne(ctx, bson.M{"_id": id}).Decode(&product)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	return &product, nil
}

func (s *Store) GetProducts(ctx context.Context, ids []string) (map[string]*models.Product, error) {
	products := make(map[string]*models.Product, len(ids))
	if len(ids) == 0 {
		return products, nil
	}

	cursor, err := s.products.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, fmt.Errorf("get products: %w", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		product := &models.Product{}
		if err := cursor.Decode(product); err != nil {
			return nil, fmt.Errorf("decode product: %w", err)
		}
		products[product.ID] = product
	}

	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}

	return products, nil
}

func (s *Store) MarkSold(ctx context.Context, productID, sessionID string) (models.Transition, error) {
	filter := bson.M{"_id": productID, "status": models.ProductStatusAvailable}
	update := bson.M{
		"$set": bson.M{
			"status":          models.ProductStatusSold,
			"sold_session_id": sessionID,
			"updated_at":      time.Now().UTC(),
		},
		"$inc": bson.M{"version": 1},
	}

	result, err := s.products.UpdateOne(ctx, filter, update)
	if err != nil {
		return models.TransitionFailed, fmt.Errorf("mark sold: %w", err)
	}
	if result.ModifiedCount == 1 {
		return models.TransitionSold, nil
	}

	product, err := s.GetProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, database.ErrProductNotFound) {
			return models.TransitionMissing, nil
		}
		return models.TransitionFailed, err
	}

	return store.ClassifyLostTransition(product.Status, product.SoldSessionID, sessionID), nil
}

func (s *Store) SetStatus(ctx context.Context, productID string, from, to models.ProductStatus) error {
	if !from.Valid() || !to.Valid() || from == models.ProductStatusSold || to == models.ProductStatusSold {
		return database.ErrIllegalTransition
	}

	result, err := s.products.UpdateOne(ctx,
		bson.M{"_id": productID, "status": from},
		bson.M{
			"$set": bson.M{"status": to, "updated_at": time.Now().UTC()},
			"$inc": bson.M{"version": 1},
		})
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}

	if result.MatchedCount == 0 {
		if _, err := s.GetProduct(ctx, productID); err != nil {
			return err
		}
		return database.ErrStatusConflict
	}

	return nil
}

func (s *Store) OrderExists(ctx context.Context, sessionID string) (bool, error) {
	count, err := s.orders.CountDocuments(ctx, bson.M{"_id": sessionID}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("check order exists: %w", err)
	}
	return count > 0, nil
}

func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	// BSON dates hold milliseconds; truncating keeps cursors exact.
	order.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	order.PublishedAt = nil

	_, err := s.orders.InsertOne(ctx, order)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return database.ErrOrderExists
		}
		return fmt.Errorf("create order: %w", err)
	}

	return nil
}

func (s *Store) GetOrderBySession(ctx context.Context, sessionID string) (*models.Order, error) {
	var order models.Order
	err := s.orders.FindOne(ctx, bson.M{"_id": sessionID}).Decode(&order)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return &order, nil
}

func (s *Store) ListOrders(ctx context.Context, fulfillment models.Fulfillment, cursor string, limit int) (*store.CursorPage, error) {
	position, err := store.DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}

	filter := bson.M{
		"$or": bson.A{
			bson.M{"created_at": bson.M{"$lt": position.CreatedAt}},
			bson.M{"created_at": position.CreatedAt, "order_id": bson.M{"$lt": position.ID}},
		},
	}
	if fulfillment != "" {
		filter["fulfillment"] = fulfillment
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "order_id", Value: -1}}).
		SetLimit(int64(limit + 1))

	orders, err := s.findOrders(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	values := make([]models.Order, 0, len(orders))
	for _, order := range orders {
		values = append(values, *order)
	}

	return store.NewCursorPage(values, limit), nil
}

func (s *Store) ListUnpublishedOrders(ctx context.Context, limit int) ([]*models.Order, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(limit))

	orders, err := s.findOrders(ctx, bson.M{"published_at": bson.M{"$exists": false}}, opts)
	if err != nil {
		return nil, fmt.Errorf("list unpublished orders: %w", err)
	}
	return orders, nil
}

func (s *Store) MarkOrderPublished(ctx context.Context, sessionID string) error {
	_, err := s.orders.UpdateOne(ctx,
		bson.M{"_id": sessionID, "published_at": bson.M{"$exists": false}},
		bson.M{"$set": bson.M{"published_at": time.Now().UTC()}})
	if err != nil {
		return fmt.Errorf("mark order published: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

func (s *Store) findOrders(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*models.Order, error) {
	cursor, err := s.orders.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	orders := []*models.Order{}
	for cursor.Next(ctx) {
		order := &models.Order{}
		if err := cursor.Decode(order); err != nil {
			return nil, fmt.Errorf("decode order: %w", err)
		}
		orders = append(orders, order)
	}

	if err := cursor.Err(); err != nil {
		return nil, err
	}

	return orders, nil
}
