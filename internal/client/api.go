package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/kinbanker/tojvs-new/internal/domain"
)

// API is the HTTP client for the server's REST surface.
type API struct {
	base string
	http *http.Client

	mu    sync.Mutex
	token string
}

// NewAPI creates an API client for the server base URL.
func NewAPI(base string) *API {
	return &API{
		base: base,
		http: &http.Client{Timeout: 15 * time.Second},
	}
}

// SetToken installs the bearer credential used on subsequent calls.
func (a *API) SetToken(token string) {
	a.mu.Lock()
	a.token = token
	a.mu.Unlock()
}

// LoginResult is the successful login response.
type LoginResult struct {
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
	User         struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
	} `json:"user"`
}

// Login authenticates and installs the returned access token.
func (a *API) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	var out LoginResult
	err := a.do(ctx, http.MethodPost, "/api/login",
		map[string]string{"username": username, "password": password}, &out)
	if err != nil {
		return nil, err
	}
	a.SetToken(out.AccessToken)
	return &out, nil
}

// Refresh rotates the token pair and installs the new access token.
func (a *API) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	var out LoginResult
	err := a.do(ctx, http.MethodPost, "/api/refresh",
		map[string]string{"refreshToken": refreshToken}, &out)
	if err != nil {
		return nil, err
	}
	a.SetToken(out.AccessToken)
	return &out, nil
}

// Logout revokes the stored refresh token server-side.
func (a *API) Logout(ctx context.Context) error {
	return a.do(ctx, http.MethodPost, "/api/logout", nil, nil)
}

type boardResponse struct {
	Columns map[string][]*domain.Card `json:"columns"`
	Total   int                       `json:"total"`
}

// ListCards loads the user's full board.
func (a *API) ListCards(ctx context.Context) ([]*domain.Card, error) {
	var out boardResponse
	if err := a.do(ctx, http.MethodGet, "/api/kanban?limit=200", nil, &out); err != nil {
		return nil, err
	}
	var cards []*domain.Card
	for _, col := range out.Columns {
		cards = append(cards, col...)
	}
	return cards, nil
}

// CreateCard persists a new card and returns it with its assigned id.
func (a *API) CreateCard(ctx context.Context, card *domain.Card) (*domain.Card, error) {
	req := map[string]interface{}{
		"ticker":   card.Ticker,
		"price":    card.Price,
		"quantity": card.Quantity,
		"column":   string(card.Stage),
		"notes":    card.Notes,
	}
	var out domain.Card
	if err := a.do(ctx, http.MethodPost, "/api/kanban", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MoveCard persists a stage change.
func (a *API) MoveCard(ctx context.Context, cardID int64, to domain.Stage) error {
	return a.do(ctx, http.MethodPut, "/api/kanban/"+strconv.FormatInt(cardID, 10),
		map[string]string{"column": string(to)}, nil)
}

// DeleteCard removes a card.
func (a *API) DeleteCard(ctx context.Context, cardID int64) error {
	return a.do(ctx, http.MethodDelete, "/api/kanban/"+strconv.FormatInt(cardID, 10), nil, nil)
}

type apiError struct {
	Message string `json:"error"`
}

func (a *API) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.base+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	a.mu.Lock()
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	a.mu.Unlock()

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiError
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Message != "" {
			return fmt.Errorf("%s %s: %s", method, path, apiErr.Message)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
