// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/kinbanker/tojvs-new/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Repository defines the interface for persisting users, pipeline
// cards and command audit rows.
type Repository interface {
	// CreateUser inserts a new account and returns its id.
	CreateUser(ctx context.Context, user *domain.User) (int64, error)

	// GetUserByLogin retrieves an account by username or email.
	GetUserByLogin(ctx context.Context, login string) (*domain.User, error)

	// GetUser retrieves an account by id.
	GetUser(ctx context.Context, userID int64) (*domain.User, error)

	// UpdateRefreshToken stores the current refresh token for a user.
	// An empty token clears it (logout).
	UpdateRefreshToken(ctx context.Context, userID int64, token string) error

	// CreateCard inserts a pipeline card and returns it with id and
	// timestamps filled in.
	CreateCard(ctx context.Context, card *domain.Card) (*domain.Card, error)

	// ListCardsByUser returns the user's cards, newest first.
	ListCardsByUser(ctx context.Context, userID int64, limit, offset int) ([]*domain.Card, int, error)

	// UpdateCardStage moves a card to a new stage. The card keeps its
	// identity; only the grouping changes.
	UpdateCardStage(ctx context.Context, userID, cardID int64, stage domain.Stage) error

	// DeleteCard removes a card owned by the user.
	DeleteCard(ctx context.Context, userID, cardID int64) error

	// FindRecentCard looks for a card with the same user, ticker,
	// price and quantity created within the window. Used as the
	// duplicate-insert guard for redundant result deliveries.
	FindRecentCard(ctx context.Context, userID int64, ticker string, price float64, quantity int, window time.Duration) (*domain.Card, error)

	// FindCardsByTicker returns the user's cards matching the ticker
	// (case-insensitive) outside the excluded stage, newest first.
	// The result router uses it to advance an existing pipeline item
	// instead of creating a second one for the same ticker.
	FindCardsByTicker(ctx context.Context, userID int64, ticker string, exclude domain.Stage) ([]*domain.Card, error)

	// RecordVoiceCommand inserts a command audit row.
	RecordVoiceCommand(ctx context.Context, cmd *domain.VoiceCommand) error

	// MarkCommandProcessed flags a command audit row once its result
	// has been routed.
	MarkCommandProcessed(ctx context.Context, commandID, intentType string) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
