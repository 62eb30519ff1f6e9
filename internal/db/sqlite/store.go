// Package sqlite provides a single-file scan store for local CLI use. It
// implements the same collaborator interfaces as the PostgreSQL store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/labelscan/internal/types"
	_ "modernc.org/sqlite"
)

// timeLayout has fixed-width fractions so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is a SQLite-backed scan, profile and conversation store.
type Store struct {
	db *sql.DB
}

var (
	_ types.ScanStore         = (*Store)(nil)
	_ types.ProfileStore      = (*Store)(nil)
	_ types.ConversationStore = (*Store)(nil)
)

// Open opens or creates the database file at path and initializes the
// schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection serializes writers and keeps pragmas in effect.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
    PRAGMA foreign_keys = ON;

    CREATE TABLE IF NOT EXISTS health_profiles (
        user_id TEXT PRIMARY KEY,
        allergies TEXT NOT NULL DEFAULT '[]',
        chronic_conditions TEXT NOT NULL DEFAULT '[]',
        dietary_preferences TEXT NOT NULL DEFAULT '[]',
        updated_at TEXT NOT NULL
    );

    CREATE TABLE IF NOT EXISTS scans (
        id TEXT PRIMARY KEY,
        user_id TEXT NOT NULL,
        product_name TEXT NOT NULL DEFAULT '',
        raw_text TEXT NOT NULL,
        language TEXT NOT NULL DEFAULT '',
        summary_explanation TEXT NOT NULL,
        summary_risk TEXT NOT NULL,
        created_at TEXT NOT NULL
    );

    CREATE TABLE IF NOT EXISTS scan_ingredients (
        scan_id TEXT NOT NULL,
        ordinal INTEGER NOT NULL,
        name TEXT NOT NULL,
        normalized_name TEXT NOT NULL,
        risk_level TEXT NOT NULL,
        reasons TEXT NOT NULL DEFAULT '[]',
        PRIMARY KEY (scan_id, ordinal),
        FOREIGN KEY (scan_id) REFERENCES scans(id) ON DELETE CASCADE
    );

    CREATE TABLE IF NOT EXISTS scan_nutrients (
        scan_id TEXT NOT NULL,
        ordinal INTEGER NOT NULL,
        label TEXT NOT NULL,
        value REAL NOT NULL,
        max_recommended REAL,
        PRIMARY KEY (scan_id, ordinal),
        FOREIGN KEY (scan_id) REFERENCES scans(id) ON DELETE CASCADE
    );

    CREATE TABLE IF NOT EXISTS chat_messages (
        seq INTEGER PRIMARY KEY AUTOINCREMENT,
        id TEXT NOT NULL UNIQUE,
        user_id TEXT NOT NULL,
        scan_id TEXT,
        role TEXT NOT NULL,
        text TEXT NOT NULL,
        created_at TEXT NOT NULL,
        FOREIGN KEY (scan_id) REFERENCES scans(id) ON DELETE CASCADE
    );

    CREATE INDEX IF NOT EXISTS idx_scans_user_created ON scans(user_id, created_at);
    CREATE INDEX IF NOT EXISTS idx_chat_messages_conversation ON chat_messages(user_id, scan_id, seq);
    `

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// SaveScan stores a scan and its rows in one transaction.
func (s *Store) SaveScan(ctx context.Context, scan *types.ScanResult) (uuid.UUID, error) {
	if len(scan.IngredientRisks) != len(scan.Ingredients) {
		return uuid.Nil, fmt.Errorf("scan has %d ingredients but %d risks", len(scan.Ingredients), len(scan.IngredientRisks))
	}
	id := scan.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	createdAt := scan.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
        INSERT INTO scans (id, user_id, product_name, raw_text, language, summary_explanation, summary_risk, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id.String(), scan.UserID.String(), scan.ProductName, scan.RawText, scan.Language,
		scan.SummaryExplanation, scan.SummaryRisk.String(), createdAt.UTC().Format(timeLayout))
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert scan: %w", err)
	}

	for i, ing := range scan.Ingredients {
		r := scan.IngredientRisks[i]
		reasons, err := encodeStrings(r.Reasons)
		if err != nil {
			return uuid.Nil, err
		}
		_, err = tx.ExecContext(ctx, `
            INSERT INTO scan_ingredients (scan_id, ordinal, name, normalized_name, risk_level, reasons)
            VALUES (?, ?, ?, ?, ?, ?)`,
			id.String(), i, ing.Name, ing.NormalizedName, r.Level.String(), reasons)
		if err != nil {
			return uuid.Nil, fmt.Errorf("failed to insert ingredient: %w", err)
		}
	}

	for i, n := range scan.Nutrients {
		_, err = tx.ExecContext(ctx, `
            INSERT INTO scan_nutrients (scan_id, ordinal, label, value, max_recommended)
            VALUES (?, ?, ?, ?, ?)`,
			id.String(), i, n.Label, n.Value, n.MaxRecommended)
		if err != nil {
			return uuid.Nil, fmt.Errorf("failed to insert nutrient: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return id, nil
}

// LoadScan returns nil, nil when the scan is absent or owned by another user.
func (s *Store) LoadScan(ctx context.Context, scanID, userID uuid.UUID) (*types.ScanResult, error) {
	var scan types.ScanResult
	var id, owner, risk, createdAt string
	err := s.db.QueryRowContext(ctx, `
        SELECT id, user_id, product_name, raw_text, language, summary_explanation, summary_risk, created_at
        FROM scans WHERE id = ? AND user_id = ?`,
		scanID.String(), userID.String(),
	).Scan(&id, &owner, &scan.ProductName, &scan.RawText, &scan.Language, &scan.SummaryExplanation, &risk, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get scan: %w", err)
	}

	scan.ID, scan.UserID = scanID, userID
	if scan.SummaryRisk, err = types.ParseRiskLevel(risk); err != nil {
		return nil, err
	}
	if scan.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}

	if err := s.loadIngredients(ctx, &scan); err != nil {
		return nil, err
	}
	if err := s.loadNutrients(ctx, &scan); err != nil {
		return nil, err
	}
	return &scan, nil
}

func (s *Store) loadIngredients(ctx context.Context, scan *types.ScanResult) error {
	rows, err := s.db.QueryContext(ctx, `
        SELECT name, normalized_name, risk_level, reasons
        FROM scan_ingredients WHERE scan_id = ? ORDER BY ordinal`, scan.ID.String())
	if err != nil {
		return fmt.Errorf("failed to query ingredients: %w", err)
	}
	defer rows.Close()

	scan.Ingredients = []types.ParsedIngredient{}
	scan.IngredientRisks = []types.IngredientRisk{}
	for rows.Next() {
		var ing types.ParsedIngredient
		var level, reasonsJSON string
		if err := rows.Scan(&ing.Name, &ing.NormalizedName, &level, &reasonsJSON); err != nil {
			return fmt.Errorf("failed to scan ingredient: %w", err)
		}
		parsed, err := types.ParseRiskLevel(level)
		if err != nil {
			return err
		}
		reasons, err := decodeStrings(reasonsJSON)
		if err != nil {
			return err
		}
		scan.Ingredients = append(scan.Ingredients, ing)
		scan.IngredientRisks = append(scan.IngredientRisks, types.IngredientRisk{Ingredient: ing, Level: parsed, Reasons: reasons})
	}
	return rows.Err()
}

func (s *Store) loadNutrients(ctx context.Context, scan *types.ScanResult) error {
	rows, err := s.db.QueryContext(ctx, `
        SELECT label, value, max_recommended
        FROM scan_nutrients WHERE scan_id = ? ORDER BY ordinal`, scan.ID.String())
	if err != nil {
		return fmt.Errorf("failed to query nutrients: %w", err)
	}
	defer rows.Close()

	scan.Nutrients = []types.ParsedNutrient{}
	for rows.Next() {
		var n types.ParsedNutrient
		var maxRecommended sql.NullFloat64
		if err := rows.Scan(&n.Label, &n.Value, &maxRecommended); err != nil {
			return fmt.Errorf("failed to scan nutrient: %w", err)
		}
		if maxRecommended.Valid {
			v := maxRecommended.Float64
			n.MaxRecommended = &v
		}
		scan.Nutrients = append(scan.Nutrients, n)
	}
	return rows.Err()
}

// ListScans returns the user's scans, newest first.
func (s *Store) ListScans(ctx context.Context, userID uuid.UUID) ([]types.ScanListItem, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, product_name, summary_risk, created_at
        FROM scans WHERE user_id = ? ORDER BY created_at DESC`, userID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query scans: %w", err)
	}
	defer rows.Close()

	items := []types.ScanListItem{}
	for rows.Next() {
		var item types.ScanListItem
		var id, risk, createdAt string
		if err := rows.Scan(&id, &item.ProductName, &risk, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if item.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		if item.SummaryRisk, err = types.ParseRiskLevel(risk); err != nil {
			return nil, err
		}
		if item.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// DeleteScan removes a scan with its rows and chat history.
func (s *Store) DeleteScan(ctx context.Context, scanID, userID uuid.UUID) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM scans WHERE id = ? AND user_id = ?`, scanID.String(), userID.String())
	if err != nil {
		return false, fmt.Errorf("failed to delete scan: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	for _, table := range []string{"scan_ingredients", "scan_nutrients", "chat_messages"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE scan_id = ?`, scanID.String()); err != nil {
			return false, fmt.Errorf("failed to delete from %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}

// GetProfile returns an empty profile when none is stored.
func (s *Store) GetProfile(ctx context.Context, userID uuid.UUID) (types.HealthProfile, error) {
	var allergies, conditions, preferences string
	err := s.db.QueryRowContext(ctx, `
        SELECT allergies, chronic_conditions, dietary_preferences
        FROM health_profiles WHERE user_id = ?`, userID.String(),
	).Scan(&allergies, &conditions, &preferences)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.HealthProfile{}, nil
		}
		return types.HealthProfile{}, fmt.Errorf("failed to get health profile: %w", err)
	}

	var profile types.HealthProfile
	if profile.Allergies, err = decodeStrings(allergies); err != nil {
		return types.HealthProfile{}, err
	}
	if profile.ChronicConditions, err = decodeStrings(conditions); err != nil {
		return types.HealthProfile{}, err
	}
	if profile.DietaryPreferences, err = decodeStrings(preferences); err != nil {
		return types.HealthProfile{}, err
	}
	return profile, nil
}

// UpsertProfile replaces the user's health profile.
func (s *Store) UpsertProfile(ctx context.Context, userID uuid.UUID, profile types.HealthProfile) error {
	profile = profile.Normalized()
	allergies, err := encodeStrings(profile.Allergies)
	if err != nil {
		return err
	}
	conditions, err := encodeStrings(profile.ChronicConditions)
	if err != nil {
		return err
	}
	preferences, err := encodeStrings(profile.DietaryPreferences)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
        INSERT INTO health_profiles (user_id, allergies, chronic_conditions, dietary_preferences, updated_at)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT (user_id) DO UPDATE SET
            allergies = excluded.allergies,
            chronic_conditions = excluded.chronic_conditions,
            dietary_preferences = excluded.dietary_preferences,
            updated_at = excluded.updated_at`,
		userID.String(), allergies, conditions, preferences, time.Now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to upsert health profile: %w", err)
	}
	return nil
}

// ListTurns returns a conversation oldest first.
func (s *Store) ListTurns(ctx context.Context, userID uuid.UUID, scanID *uuid.UUID) ([]types.ConversationTurn, error) {
	query := `SELECT id, scan_id, role, text, created_at FROM chat_messages WHERE user_id = ?`
	args := []interface{}{userID.String()}
	if scanID == nil {
		query += " AND scan_id IS NULL"
	} else {
		query += " AND scan_id = ?"
		args = append(args, scanID.String())
	}
	query += " ORDER BY seq"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat messages: %w", err)
	}
	defer rows.Close()

	turns := []types.ConversationTurn{}
	for rows.Next() {
		var t types.ConversationTurn
		var id, role, createdAt string
		var scan sql.NullString
		if err := rows.Scan(&id, &scan, &role, &t.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat message: %w", err)
		}
		if t.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		if scan.Valid {
			sid, err := uuid.Parse(scan.String)
			if err != nil {
				return nil, err
			}
			t.ScanID = &sid
		}
		if t.Role, err = types.ParseRole(role); err != nil {
			return nil, err
		}
		if t.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// AppendTurns stores turns in order within one transaction.
func (s *Store) AppendTurns(ctx context.Context, userID uuid.UUID, turns []types.ConversationTurn) error {
	if len(turns) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	for _, t := range turns {
		id := t.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		createdAt := t.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		var scanID interface{}
		if t.ScanID != nil {
			scanID = t.ScanID.String()
		}
		_, err := tx.ExecContext(ctx, `
            INSERT INTO chat_messages (id, user_id, scan_id, role, text, created_at)
            VALUES (?, ?, ?, ?, ?, ?)`,
			id.String(), userID.String(), scanID, string(t.Role), t.Text, createdAt.UTC().Format(timeLayout))
		if err != nil {
			return fmt.Errorf("failed to insert chat message: %w", err)
		}
	}
	return tx.Commit()
}

func encodeStrings(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("failed to encode list: %w", err)
	}
	return string(data), nil
}

func decodeStrings(data string) ([]string, error) {
	out := []string{}
	if data == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return nil, fmt.Errorf("failed to decode list: %w", err)
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}
