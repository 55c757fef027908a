package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
)

const productColumns = `id, name, price_cents, status, COALESCE(sold_session_id, ''), created_at, updated_at, version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner, product *models.Product) error {
	return row.Scan(
		&product.ID,
		&product.Name,
		&product.PriceCents,
		&product.Status,
		&product.SoldSessionID,
		&product.CreatedAt,
		&product.UpdatedAt,
		&product.Version,
	)
}

func CreateProduct(ctx context.Context, db *sql.DB, id, name string, priceCents int64, status models.ProductStatus) (*models.Product, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("create product: invalid status %q", status)
	}

	product := &models.Product{}

	query := `
		INSERT INTO products (id, name, price_cents, status, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, NOW(), NOW(), 1)
		RETURNING ` + productColumns

	err := scanProduct(db.QueryRowContext(ctx, query, id, name, priceCents, status), product)
	if err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}

	return product, nil
}

func GetProduct(ctx context.Context, db *sql.DB, id string) (*models.Product, error) {
	product := &models.Product{}

	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	err := scanProduct(db.QueryRowContext(ctx, query, id), product)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	return product, nil
}

// GetProducts loads the given products in one round-trip. Unknown ids are
// absent from the result.
func GetProducts(ctx context.Context, db *sql.DB, ids []string) (map[string]*models.Product, error) {
	products := make(map[string]*models.Product, len(ids))
	if len(ids) == 0 {
		return products, nil
	}

	query := `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1)`

	rows, err := db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("get products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		product := &models.Product{}
		if err := scanProduct(rows, product); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products[product.ID] = product
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return products, nil
}

// MarkSold moves a product from available to sold on behalf of a checkout
// session. The update only applies while the stored status is still
// available; a losing writer gets a classified transition, not an error.
func MarkSold(ctx context.Context, db *sql.DB, productID, sessionID string) (models.Transition, error) {
	var transition models.Transition

	err := database.WithRetry(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE products
			 SET status = $1,
			     sold_session_id = $2,
			     version = version + 1,
			     updated_at = NOW()
			 WHERE id = $3
			   AND status = $4`,
			models.ProductStatusSold, sessionID, productID, models.ProductStatusAvailable)
		if err != nil {
			return fmt.Errorf("mark sold: %w", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}

		if rowsAffected == 1 {
			transition = models.TransitionSold
			return nil
		}

		var status models.ProductStatus
		var soldSessionID sql.NullString
		err = tx.QueryRowContext(ctx,
			`SELECT status, sold_session_id FROM products WHERE id = $1`,
			productID).Scan(&status, &soldSessionID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				transition = models.TransitionMissing
				return nil
			}
			return fmt.Errorf("read product status: %w", err)
		}

		transition = ClassifyLostTransition(status, soldSessionID.String, sessionID)
		return nil
	})
	if err != nil {
		return models.TransitionFailed, err
	}

	return transition, nil
}

// ClassifyLostTransition names the outcome for a writer whose conditional
// update matched no row.
func ClassifyLostTransition(status models.ProductStatus, soldSessionID, sessionID string) models.Transition {
	if status == models.ProductStatusSold && soldSessionID == sessionID {
		return models.TransitionAlreadyApplied
	}
	return models.TransitionUnavailable
}

// SetStatus changes a product status only if it still equals from. Sold
// products never change status here.
func SetStatus(ctx context.Context, db *sql.DB, productID string, from, to models.ProductStatus) error {
	if !from.Valid() || !to.Valid() || from == models.ProductStatusSold || to == models.ProductStatusSold {
		return database.ErrIllegalTransition
	}

	result, err := db.ExecContext(ctx,
		`UPDATE products
		 SET status = $1, version = version + 1, updated_at = NOW()
		 WHERE id = $2 AND status = $3`,
		to, productID, from)
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		if _, err := GetProduct(ctx, db, productID); err != nil {
			return err
		}
		return database.ErrStatusConflict
	}

	return nil
}
