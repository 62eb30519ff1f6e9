package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jonathan/labelscan/internal/types"
)

// SaveScan stores a scan with its ingredients, risks and nutrients in one
// transaction. A scan without an ID gets a new one.
func (db *DB) SaveScan(ctx context.Context, scan *types.ScanResult) (uuid.UUID, error) {
	if len(scan.IngredientRisks) != len(scan.Ingredients) {
		return uuid.Nil, fmt.Errorf("scan has %d ingredients but %d risks", len(scan.Ingredients), len(scan.IngredientRisks))
	}

	id := scan.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rErr := tx.Rollback(ctx); rErr != nil && !errors.Is(rErr, pgx.ErrTxClosed) {
			_ = rErr
		}
	}()

	_, err = tx.Exec(ctx,
		`INSERT INTO scans (id, user_id, product_name, raw_text, language, summary_explanation, summary_risk, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()))`,
		id, scan.UserID, scan.ProductName, scan.RawText, nullIfEmpty(scan.Language),
		scan.SummaryExplanation, scan.SummaryRisk.String(), nullTime(scan),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert scan: %w", err)
	}

	batch := &pgx.Batch{}
	for i, ing := range scan.Ingredients {
		r := scan.IngredientRisks[i]
		batch.Queue(
			`INSERT INTO scan_ingredients (scan_id, ordinal, name, normalized_name, risk_level, reasons)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			id, i, ing.Name, ing.NormalizedName, r.Level.String(), StringArray(r.Reasons),
		)
	}
	for i, n := range scan.Nutrients {
		batch.Queue(
			`INSERT INTO scan_nutrients (scan_id, ordinal, label, value, max_recommended)
			 VALUES ($1, $2, $3, $4, $5)`,
			id, i, n.Label, n.Value, n.MaxRecommended,
		)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return uuid.Nil, fmt.Errorf("failed to insert scan rows: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return id, nil
}

// LoadScan retrieves a scan owned by userID. It returns nil, nil when the
// scan does not exist or belongs to someone else.
func (db *DB) LoadScan(ctx context.Context, scanID, userID uuid.UUID) (*types.ScanResult, error) {
	var scan types.ScanResult
	var language *string
	var risk string
	err := db.pool.QueryRow(ctx,
		`SELECT id, user_id, product_name, raw_text, language, summary_explanation, summary_risk, created_at
		 FROM scans WHERE id = $1 AND user_id = $2`,
		scanID, userID,
	).Scan(&scan.ID, &scan.UserID, &scan.ProductName, &scan.RawText, &language,
		&scan.SummaryExplanation, &risk, &scan.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get scan: %w", err)
	}
	if language != nil {
		scan.Language = *language
	}
	if scan.SummaryRisk, err = types.ParseRiskLevel(risk); err != nil {
		return nil, fmt.Errorf("scan %s: %w", scanID, err)
	}

	if err := db.loadScanIngredients(ctx, &scan); err != nil {
		return nil, err
	}
	if err := db.loadScanNutrients(ctx, &scan); err != nil {
		return nil, err
	}
	return &scan, nil
}

func (db *DB) loadScanIngredients(ctx context.Context, scan *types.ScanResult) error {
	rows, err := db.pool.Query(ctx,
		`SELECT name, normalized_name, risk_level, reasons
		 FROM scan_ingredients WHERE scan_id = $1 ORDER BY ordinal`,
		scan.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to get scan ingredients: %w", err)
	}
	defer rows.Close()

	scan.Ingredients = []types.ParsedIngredient{}
	scan.IngredientRisks = []types.IngredientRisk{}
	for rows.Next() {
		var ing types.ParsedIngredient
		var level string
		var reasons StringArray
		if err := rows.Scan(&ing.Name, &ing.NormalizedName, &level, &reasons); err != nil {
			return fmt.Errorf("failed to scan ingredient: %w", err)
		}
		parsed, err := types.ParseRiskLevel(level)
		if err != nil {
			return fmt.Errorf("ingredient %q: %w", ing.Name, err)
		}
		scan.Ingredients = append(scan.Ingredients, ing)
		scan.IngredientRisks = append(scan.IngredientRisks, types.IngredientRisk{
			Ingredient: ing,
			Level:      parsed,
			Reasons:    reasons.Strings(),
		})
	}
	return rows.Err()
}

func (db *DB) loadScanNutrients(ctx context.Context, scan *types.ScanResult) error {
	rows, err := db.pool.Query(ctx,
		`SELECT label, value, max_recommended
		 FROM scan_nutrients WHERE scan_id = $1 ORDER BY ordinal`,
		scan.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to get scan nutrients: %w", err)
	}
	defer rows.Close()

	scan.Nutrients = []types.ParsedNutrient{}
	for rows.Next() {
		var n types.ParsedNutrient
		if err := rows.Scan(&n.Label, &n.Value, &n.MaxRecommended); err != nil {
			return fmt.Errorf("failed to scan nutrient: %w", err)
		}
		scan.Nutrients = append(scan.Nutrients, n)
	}
	return rows.Err()
}

// ListScans returns the user's scans, newest first.
func (db *DB) ListScans(ctx context.Context, userID uuid.UUID) ([]types.ScanListItem, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, product_name, summary_risk, created_at
		 FROM scans WHERE user_id = $1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list scans: %w", err)
	}
	defer rows.Close()

	items := []types.ScanListItem{}
	for rows.Next() {
		var item types.ScanListItem
		var risk string
		if err := rows.Scan(&item.ID, &item.ProductName, &risk, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan scan row: %w", err)
		}
		if item.SummaryRisk, err = types.ParseRiskLevel(risk); err != nil {
			return nil, fmt.Errorf("scan %s: %w", item.ID, err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// DeleteScan deletes a scan and, by cascade, its rows and chat history. It
// reports whether a scan owned by userID was removed.
func (db *DB) DeleteScan(ctx context.Context, scanID, userID uuid.UUID) (bool, error) {
	result, err := db.pool.Exec(ctx, `DELETE FROM scans WHERE id = $1 AND user_id = $2`, scanID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to delete scan: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

func nullTime(scan *types.ScanResult) any {
	if scan.CreatedAt.IsZero() {
		return nil
	}
	return scan.CreatedAt
}
