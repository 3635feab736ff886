package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kinbanker/tojvs-new/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	PRAGMA foreign_keys = ON;
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT UNIQUE NOT NULL,
		email TEXT UNIQUE,
		phone TEXT,
		password TEXT NOT NULL,
		refresh_token TEXT,
		marketing_consent INTEGER DEFAULT 0,
		is_active INTEGER DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_users_username ON users(username);

	CREATE TABLE IF NOT EXISTS kanban_cards (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		ticker TEXT NOT NULL CHECK(length(ticker) <= 10),
		price REAL NOT NULL CHECK(price >= 0),
		quantity INTEGER NOT NULL CHECK(quantity > 0),
		stage TEXT NOT NULL CHECK(stage IN ('intake-buy', 'done-buy', 'intake-sell', 'done-sell')),
		notes TEXT CHECK(length(notes) <= 500),
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users (id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_cards_user_created ON kanban_cards(user_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS voice_commands (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		command_id TEXT UNIQUE NOT NULL,
		user_id INTEGER NOT NULL,
		command_text TEXT NOT NULL CHECK(length(command_text) <= 1000),
		intent_type TEXT,
		processed INTEGER DEFAULT 0,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users (id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_voice_command_id ON voice_commands(command_id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateUser inserts a new account and returns its id.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *domain.User) (int64, error) {
	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, email, phone, password, marketing_consent, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?)`,
		user.Username, nullable(user.Email), nullable(user.Phone),
		user.PasswordHash, boolInt(user.MarketingConsent), now, now,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return 0, fmt.Errorf("user already exists: %w", err)
		}
		return 0, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("user insert id: %w", err)
	}
	return id, nil
}

const userColumns = `id, username, email, phone, password, refresh_token, marketing_consent, is_active, created_at, updated_at`

func scanUser(row *sql.Row) (*domain.User, error) {
	var user domain.User
	var email, phone, refresh sql.NullString
	var consent, active int
	var createdAt, updatedAt int64

	err := row.Scan(
		&user.ID, &user.Username, &email, &phone, &user.PasswordHash,
		&refresh, &consent, &active, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.Email = email.String
	user.Phone = phone.String
	user.RefreshToken = refresh.String
	user.MarketingConsent = consent != 0
	user.IsActive = active != 0
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)
	return &user, nil
}

// GetUserByLogin retrieves an account by username or email.
func (s *SQLiteStore) GetUserByLogin(ctx context.Context, login string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ? OR email = ?`, login, login)
	return scanUser(row)
}

// GetUser retrieves an account by id.
func (s *SQLiteStore) GetUser(ctx context.Context, userID int64) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, userID)
	return scanUser(row)
}

// UpdateRefreshToken stores or clears the refresh token for a user.
func (s *SQLiteStore) UpdateRefreshToken(ctx context.Context, userID int64, token string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET refresh_token = ?, updated_at = ? WHERE id = ?`,
		nullable(token), time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update refresh token: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

const cardColumns = `id, user_id, ticker, price, quantity, stage, notes, created_at, updated_at`

func scanCard(scanner interface{ Scan(...any) error }) (*domain.Card, error) {
	var card domain.Card
	var notes sql.NullString
	var stage string
	var createdAt, updatedAt int64

	err := scanner.Scan(
		&card.ID, &card.UserID, &card.Ticker, &card.Price, &card.Quantity,
		&stage, &notes, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan card row: %w", err)
	}

	card.Stage = domain.Stage(stage)
	card.Notes = notes.String
	card.CreatedAt = time.UnixMilli(createdAt)
	card.UpdatedAt = time.UnixMilli(updatedAt)
	return &card, nil
}

// CreateCard inserts a pipeline card and returns the stored record.
func (s *SQLiteStore) CreateCard(ctx context.Context, card *domain.Card) (*domain.Card, error) {
	if _, err := domain.ParseStage(string(card.Stage)); err != nil {
		return nil, err
	}
	// Card timestamps are stored in milliseconds; at second granularity
	// the duplicate window would shrink by up to a second.
	now := time.Now()
	res, err := s.execRetry(ctx, `
		INSERT INTO kanban_cards (user_id, ticker, price, quantity, stage, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		card.UserID, strings.ToUpper(card.Ticker), card.Price, card.Quantity,
		string(card.Stage), card.Notes, now.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert card: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("card insert id: %w", err)
	}

	stored := *card
	stored.ID = id
	stored.Ticker = strings.ToUpper(card.Ticker)
	stored.CreatedAt = now
	stored.UpdatedAt = now
	return &stored, nil
}

// ListCardsByUser returns the user's cards, newest first.
func (s *SQLiteStore) ListCardsByUser(ctx context.Context, userID int64, limit, offset int) ([]*domain.Card, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+cardColumns+` FROM kanban_cards
		WHERE user_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query cards: %w", err)
	}
	defer rows.Close()

	var cards []*domain.Card
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, 0, err
		}
		cards = append(cards, card)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate cards: %w", err)
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM kanban_cards WHERE user_id = ?`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count cards: %w", err)
	}

	return cards, total, nil
}

// UpdateCardStage moves a card to a new stage.
func (s *SQLiteStore) UpdateCardStage(ctx context.Context, userID, cardID int64, stage domain.Stage) error {
	if _, err := domain.ParseStage(string(stage)); err != nil {
		return err
	}
	res, err := s.execRetry(ctx,
		`UPDATE kanban_cards SET stage = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		string(stage), time.Now().UnixMilli(), cardID, userID)
	if err != nil {
		return fmt.Errorf("update card stage: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteCard removes a card owned by the user.
func (s *SQLiteStore) DeleteCard(ctx context.Context, userID, cardID int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM kanban_cards WHERE id = ? AND user_id = ?`, cardID, userID)
	if err != nil {
		return fmt.Errorf("delete card: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// FindRecentCard implements the duplicate-insert guard lookup.
func (s *SQLiteStore) FindRecentCard(ctx context.Context, userID int64, ticker string, price float64, quantity int, window time.Duration) (*domain.Card, error) {
	threshold := time.Now().Add(-window).UnixMilli()
	row := s.db.QueryRowContext(ctx, `
		SELECT `+cardColumns+` FROM kanban_cards
		WHERE user_id = ? AND ticker = ? AND price = ? AND quantity = ? AND created_at >= ?
		ORDER BY created_at DESC LIMIT 1`,
		userID, strings.ToUpper(ticker), price, quantity, threshold)
	return scanCard(row)
}

// FindCardsByTicker returns move candidates for the result router.
// Tickers are stored uppercased, so the match is case-insensitive.
func (s *SQLiteStore) FindCardsByTicker(ctx context.Context, userID int64, ticker string, exclude domain.Stage) ([]*domain.Card, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+cardColumns+` FROM kanban_cards
		WHERE user_id = ? AND ticker = ? AND stage != ?
		ORDER BY created_at DESC, id DESC`,
		userID, strings.ToUpper(ticker), string(exclude))
	if err != nil {
		return nil, fmt.Errorf("query ticker cards: %w", err)
	}
	defer rows.Close()

	var cards []*domain.Card
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, card)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ticker cards: %w", err)
	}
	return cards, nil
}

// RecordVoiceCommand inserts a command audit row.
func (s *SQLiteStore) RecordVoiceCommand(ctx context.Context, cmd *domain.VoiceCommand) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO voice_commands (command_id, user_id, command_text, created_at)
		VALUES (?, ?, ?, ?)`,
		cmd.CommandID, cmd.UserID, cmd.Text, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("insert voice command: %w", err)
	}
	return nil
}

// MarkCommandProcessed flags a command audit row once routed.
func (s *SQLiteStore) MarkCommandProcessed(ctx context.Context, commandID, intentType string) error {
	_, err := s.execRetry(ctx,
		`UPDATE voice_commands SET processed = 1, intent_type = ? WHERE command_id = ?`,
		intentType, commandID)
	if err != nil {
		return fmt.Errorf("mark command processed: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func nullable(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
