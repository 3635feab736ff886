package relay

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kinbanker/tojvs-new/internal/domain"
	"github.com/kinbanker/tojvs-new/internal/registry"
	"github.com/kinbanker/tojvs-new/internal/store"
)

type fakeRepo struct {
	mu        sync.Mutex
	nextID    int64
	cards     []*domain.Card
	created   []*domain.Card
	recent    *domain.Card
	createErr error
	recentErr error
	moved     []int64
	processed []string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{nextID: 100, recentErr: store.ErrNotFound}
}

func (f *fakeRepo) CreateUser(ctx context.Context, user *domain.User) (int64, error) {
	return 0, errors.New("not implemented")
}
func (f *fakeRepo) GetUserByLogin(ctx context.Context, login string) (*domain.User, error) {
	return nil, store.ErrNotFound
}
func (f *fakeRepo) GetUser(ctx context.Context, userID int64) (*domain.User, error) {
	return nil, store.ErrNotFound
}
func (f *fakeRepo) UpdateRefreshToken(ctx context.Context, userID int64, token string) error {
	return nil
}

func (f *fakeRepo) CreateCard(ctx context.Context, card *domain.Card) (*domain.Card, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.nextID++
	cp := *card
	cp.ID = f.nextID
	cp.CreatedAt = time.Now()
	f.created = append(f.created, &cp)
	return &cp, nil
}

func (f *fakeRepo) ListCardsByUser(ctx context.Context, userID int64, limit, offset int) ([]*domain.Card, int, error) {
	return nil, 0, nil
}
func (f *fakeRepo) UpdateCardStage(ctx context.Context, userID, cardID int64, stage domain.Stage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.cards {
		if c.ID == cardID && c.UserID == userID {
			c.Stage = stage
			f.moved = append(f.moved, cardID)
			return nil
		}
	}
	return store.ErrNotFound
}
func (f *fakeRepo) DeleteCard(ctx context.Context, userID, cardID int64) error { return nil }

func (f *fakeRepo) FindRecentCard(ctx context.Context, userID int64, ticker string, price float64, quantity int, window time.Duration) (*domain.Card, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recent != nil {
		return f.recent, nil
	}
	return nil, f.recentErr
}

func (f *fakeRepo) FindCardsByTicker(ctx context.Context, userID int64, ticker string, exclude domain.Stage) ([]*domain.Card, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Card
	for _, c := range f.cards {
		if c.UserID == userID && strings.EqualFold(c.Ticker, ticker) && c.Stage != exclude {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeRepo) RecordVoiceCommand(ctx context.Context, cmd *domain.VoiceCommand) error { return nil }

func (f *fakeRepo) MarkCommandProcessed(ctx context.Context, commandID, intentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed = append(f.processed, commandID)
	return nil
}

func (f *fakeRepo) Ping(ctx context.Context) error { return nil }
func (f *fakeRepo) Close() error                   { return nil }

type captureSender struct {
	mu       sync.Mutex
	payloads []interface{}
}

func (c *captureSender) Send(event string, payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, payload)
	return nil
}

func (c *captureSender) last() interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.payloads) == 0 {
		return nil
	}
	return c.payloads[len(c.payloads)-1]
}

func kanbanEnvelope(commandID string, card domain.ResultCard) *domain.ResultEnvelope {
	data, _ := json.Marshal(domain.KanbanPayload{Action: domain.ActionAddCard, Card: &card})
	return &domain.ResultEnvelope{
		CommandID: commandID,
		Type:      domain.ResultKanban,
		Data:      data,
	}
}

func newRouterFixture() (*Router, *registry.Registry, *registry.PendingTable, *fakeRepo) {
	reg := registry.New()
	pending := registry.NewPendingTable(5 * time.Minute)
	repo := newFakeRepo()
	return NewRouter(reg, pending, repo), reg, pending, repo
}

func TestRouter_CommandResolutionScenario(t *testing.T) {
	router, reg, pending, repo := newRouterFixture()

	sender := &captureSender{}
	reg.Register(42, "alice", "chan-1", sender)
	pending.Record("cmd_42_1000", 42, "alice")

	env := kanbanEnvelope("cmd_42_1000", domain.ResultCard{
		Ticker: "TSLA", Price: 250, Quantity: 10, Column: domain.StageIntakeBuy,
	})
	outcome, err := router.Route(context.Background(), env)
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}

	if outcome.UserID != 42 {
		t.Errorf("Expected user 42, got %d", outcome.UserID)
	}
	if !outcome.Delivered || outcome.ActiveChannels != 1 {
		t.Errorf("Expected delivery to 1 channel, got %+v", outcome)
	}
	if pending.Consume("cmd_42_1000") != nil {
		t.Error("Expected pending entry to be consumed")
	}
	if len(repo.created) != 1 {
		t.Fatalf("Expected 1 card created, got %d", len(repo.created))
	}
	created := repo.created[0]
	if created.Ticker != "TSLA" || created.Stage != domain.StageIntakeBuy || created.UserID != 42 {
		t.Errorf("Unexpected created card: %+v", created)
	}
	if sender.last() == nil {
		t.Error("Expected result delivered to the channel")
	}
}

func TestRouter_ResolutionPrecedenceCommandIDWins(t *testing.T) {
	router, reg, pending, _ := newRouterFixture()

	cmdSender := &captureSender{}
	chanSender := &captureSender{}
	reg.Register(1, "alice", "chan-alice", cmdSender)
	reg.Register(2, "bob", "chan-bob", chanSender)
	pending.Record("cmd_1_99", 1, "alice")

	env := kanbanEnvelope("cmd_1_99", domain.ResultCard{
		Ticker: "AAPL", Price: 180, Quantity: 5, Column: domain.StageIntakeBuy,
	})
	// Both addressing fields resolve, to different users.
	env.ChannelID = "chan-bob"
	env.UserID = 2

	outcome, err := router.Route(context.Background(), env)
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if outcome.UserID != 1 {
		t.Errorf("Expected commandId resolution to win (user 1), got %d", outcome.UserID)
	}
	if len(chanSender.payloads) != 0 {
		t.Error("Expected nothing delivered to the channelId user")
	}
}

func TestRouter_ChannelFallback(t *testing.T) {
	router, reg, _, _ := newRouterFixture()
	sender := &captureSender{}
	reg.Register(7, "bob", "chan-7", sender)

	env := kanbanEnvelope("", domain.ResultCard{
		Ticker: "MSFT", Price: 400, Quantity: 2, Column: domain.StageIntakeSell,
	})
	env.ChannelID = "chan-7"

	outcome, err := router.Route(context.Background(), env)
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if outcome.UserID != 7 {
		t.Errorf("Expected channelId fallback to user 7, got %d", outcome.UserID)
	}
}

func TestRouter_ExplicitUserFallbackUndelivered(t *testing.T) {
	router, _, _, _ := newRouterFixture()

	env := kanbanEnvelope("", domain.ResultCard{
		Ticker: "NVDA", Price: 900, Quantity: 1, Column: domain.StageIntakeBuy,
	})
	env.UserID = 55

	outcome, err := router.Route(context.Background(), env)
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	// No open channels: accepted but undelivered, not an error.
	if outcome.Delivered || outcome.ActiveChannels != 0 {
		t.Errorf("Expected undelivered outcome, got %+v", outcome)
	}
}

func TestRouter_UnidentifiedRecipient(t *testing.T) {
	router, _, _, _ := newRouterFixture()

	env := kanbanEnvelope("cmd_never_recorded", domain.ResultCard{
		Ticker: "TSLA", Price: 250, Quantity: 10, Column: domain.StageIntakeBuy,
	})
	if _, err := router.Route(context.Background(), env); !errors.Is(err, ErrUnidentifiedRecipient) {
		t.Errorf("Expected ErrUnidentifiedRecipient, got %v", err)
	}
}

func TestRouter_RejectsUnknownResultType(t *testing.T) {
	router, _, _, _ := newRouterFixture()

	env := &domain.ResultEnvelope{UserID: 1, Type: "bogus", Data: json.RawMessage(`{}`)}
	if _, err := router.Route(context.Background(), env); !errors.Is(err, ErrBadEnvelope) {
		t.Errorf("Expected ErrBadEnvelope, got %v", err)
	}
}

func TestRouter_RejectsMalformedCard(t *testing.T) {
	router, _, pending, _ := newRouterFixture()
	pending.Record("cmd_1_1", 1, "alice")

	env := kanbanEnvelope("cmd_1_1", domain.ResultCard{Price: 250, Quantity: 10, Column: domain.StageIntakeBuy})
	if _, err := router.Route(context.Background(), env); !errors.Is(err, ErrBadEnvelope) {
		t.Errorf("Expected ErrBadEnvelope for missing ticker, got %v", err)
	}
}

func TestRouter_DuplicateGuardReusesExistingCard(t *testing.T) {
	router, reg, pending, repo := newRouterFixture()
	sender := &captureSender{}
	reg.Register(42, "alice", "chan-1", sender)
	pending.Record("cmd_dup", 42, "alice")

	repo.recent = &domain.Card{ID: 777, UserID: 42, Ticker: "TSLA", Price: 250, Quantity: 10, Stage: domain.StageIntakeBuy}

	env := kanbanEnvelope("cmd_dup", domain.ResultCard{
		Ticker: "TSLA", Price: 250, Quantity: 10, Column: domain.StageIntakeBuy,
	})
	if _, err := router.Route(context.Background(), env); err != nil {
		t.Fatalf("Route failed: %v", err)
	}

	if len(repo.created) != 0 {
		t.Errorf("Expected no new card for a duplicate, got %d", len(repo.created))
	}

	// The delivered payload carries the existing card's id.
	result, ok := sender.last().(domain.DeliveredResult)
	if !ok {
		t.Fatalf("Expected DeliveredResult payload, got %T", sender.last())
	}
	var payload domain.KanbanPayload
	if err := json.Unmarshal(result.Data, &payload); err != nil {
		t.Fatalf("Failed to decode delivered payload: %v", err)
	}
	if payload.Card.ID != 777 {
		t.Errorf("Expected reused card id 777, got %d", payload.Card.ID)
	}
}

func TestRouter_AdvancesExistingPipelineCard(t *testing.T) {
	router, reg, pending, repo := newRouterFixture()
	sender := &captureSender{}
	reg.Register(42, "alice", "chan-1", sender)
	pending.Record("cmd_42_2000", 42, "alice")

	// An hour-old TSLA position one stage behind the target. The
	// duplicate window cannot catch it; the ticker pass must.
	repo.cards = append(repo.cards, &domain.Card{
		ID: 1, UserID: 42, Ticker: "TSLA", Price: 240, Quantity: 10,
		Stage: domain.StageIntakeBuy, CreatedAt: time.Now().Add(-time.Hour),
	})

	env := kanbanEnvelope("cmd_42_2000", domain.ResultCard{
		Ticker: "TSLA", Price: 250, Quantity: 10, Column: domain.StageDoneBuy,
	})
	if _, err := router.Route(context.Background(), env); err != nil {
		t.Fatalf("Route failed: %v", err)
	}

	if len(repo.created) != 0 {
		t.Fatalf("Expected the existing card advanced, not a second row; got %d creates", len(repo.created))
	}
	if repo.cards[0].Stage != domain.StageDoneBuy {
		t.Errorf("Expected card 1 persisted in done-buy, got %s", repo.cards[0].Stage)
	}

	result, ok := sender.last().(domain.DeliveredResult)
	if !ok {
		t.Fatalf("Expected DeliveredResult payload, got %T", sender.last())
	}
	var payload domain.KanbanPayload
	if err := json.Unmarshal(result.Data, &payload); err != nil {
		t.Fatalf("Failed to decode delivered payload: %v", err)
	}
	if payload.Action != domain.ActionMoveCard || payload.CardID != 1 || payload.To != domain.StageDoneBuy {
		t.Errorf("Expected a move payload for card 1, got %+v", payload)
	}
	if payload.From != domain.StageIntakeBuy {
		t.Errorf("Expected move from intake-buy, got %s", payload.From)
	}
}

func TestRouter_AdvancePrefersPredecessorStage(t *testing.T) {
	router, reg, pending, repo := newRouterFixture()
	reg.Register(42, "alice", "chan-1", &captureSender{})
	pending.Record("cmd_42_3000", 42, "alice")

	now := time.Now()
	// The unrelated-stage card is newer, but the predecessor-stage card
	// must still win.
	repo.cards = append(repo.cards,
		&domain.Card{ID: 1, UserID: 42, Ticker: "TSLA", Stage: domain.StageIntakeBuy, CreatedAt: now.Add(-time.Hour)},
		&domain.Card{ID: 2, UserID: 42, Ticker: "TSLA", Stage: domain.StageDoneSell, CreatedAt: now},
	)

	env := kanbanEnvelope("cmd_42_3000", domain.ResultCard{
		Ticker: "TSLA", Price: 250, Quantity: 10, Column: domain.StageDoneBuy,
	})
	if _, err := router.Route(context.Background(), env); err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if len(repo.moved) != 1 || repo.moved[0] != 1 {
		t.Errorf("Expected predecessor-stage card 1 advanced, got %v", repo.moved)
	}
	if repo.cards[1].Stage != domain.StageDoneSell {
		t.Error("Expected unrelated-stage card untouched")
	}
}

func TestRouter_PersistsRoutedMove(t *testing.T) {
	router, reg, pending, repo := newRouterFixture()
	reg.Register(42, "alice", "chan-1", &captureSender{})
	pending.Record("cmd_42_4000", 42, "alice")
	repo.cards = append(repo.cards, &domain.Card{
		ID: 5, UserID: 42, Ticker: "TSLA", Stage: domain.StageIntakeBuy,
	})

	data, _ := json.Marshal(domain.KanbanPayload{
		Action: domain.ActionMoveCard, CardID: 5, To: domain.StageDoneBuy,
	})
	env := &domain.ResultEnvelope{CommandID: "cmd_42_4000", Type: domain.ResultKanban, Data: data}
	if _, err := router.Route(context.Background(), env); err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if repo.cards[0].Stage != domain.StageDoneBuy {
		t.Errorf("Expected persisted stage done-buy, got %s", repo.cards[0].Stage)
	}
}

func TestRouter_MoveForUnknownCardRejected(t *testing.T) {
	router, _, pending, _ := newRouterFixture()
	pending.Record("cmd_42_5000", 42, "alice")

	data, _ := json.Marshal(domain.KanbanPayload{
		Action: domain.ActionMoveCard, CardID: 99, To: domain.StageDoneBuy,
	})
	env := &domain.ResultEnvelope{CommandID: "cmd_42_5000", Type: domain.ResultKanban, Data: data}
	if _, err := router.Route(context.Background(), env); !errors.Is(err, ErrBadEnvelope) {
		t.Errorf("Expected ErrBadEnvelope for unknown card, got %v", err)
	}
}

func TestRouter_FanOutToAllUserChannels(t *testing.T) {
	router, reg, pending, _ := newRouterFixture()
	s1, s2 := &captureSender{}, &captureSender{}
	reg.Register(42, "alice", "chan-1", s1)
	reg.Register(42, "alice", "chan-2", s2)
	pending.Record("cmd_fan", 42, "alice")

	env := kanbanEnvelope("cmd_fan", domain.ResultCard{
		Ticker: "TSLA", Price: 250, Quantity: 10, Column: domain.StageIntakeBuy,
	})
	outcome, err := router.Route(context.Background(), env)
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if outcome.ActiveChannels != 2 {
		t.Errorf("Expected 2 channels reached, got %d", outcome.ActiveChannels)
	}
	if len(s1.payloads) != 1 || len(s2.payloads) != 1 {
		t.Errorf("Expected both channels to receive the result, got %d and %d", len(s1.payloads), len(s2.payloads))
	}
}

func TestRouter_NonKanbanResultSkipsPersistence(t *testing.T) {
	router, reg, pending, repo := newRouterFixture()
	sender := &captureSender{}
	reg.Register(42, "alice", "chan-1", sender)
	pending.Record("cmd_news", 42, "alice")

	data, _ := json.Marshal(domain.NewsPayload{Keyword: "TSLA"})
	env := &domain.ResultEnvelope{CommandID: "cmd_news", Type: domain.ResultNews, Data: data}

	outcome, err := router.Route(context.Background(), env)
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if !outcome.Delivered {
		t.Error("Expected news result delivered")
	}
	if len(repo.created) != 0 {
		t.Error("Expected no card persistence for a news result")
	}
}
