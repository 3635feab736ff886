package processor

import (
	"testing"

	"github.com/kinbanker/tojvs-new/internal/domain"
)

func TestFallbackParse(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		ok       bool
		ticker   string
		price    float64
		quantity int
		stage    domain.Stage
	}{
		{
			name:     "korean buy with quantity",
			text:     "SQQQ 17.9 1000주 매수",
			ok:       true,
			ticker:   "SQQQ",
			price:    17.9,
			quantity: 1000,
			stage:    domain.StageIntakeBuy,
		},
		{
			name:     "english buy default quantity",
			text:     "buy TSLA 250",
			ok:       true,
			ticker:   "TSLA",
			price:    250,
			quantity: 100,
			stage:    domain.StageIntakeBuy,
		},
		{
			name:     "korean sell",
			text:     "AAPL 180.5 매도",
			ok:       true,
			ticker:   "AAPL",
			price:    180.5,
			quantity: 100,
			stage:    domain.StageIntakeSell,
		},
		{
			name: "no intent keyword",
			text: "TSLA 250",
			ok:   false,
		},
		{
			name: "no ticker",
			text: "buy something at 250",
			ok:   false,
		},
		{
			name: "no price",
			text: "buy TSLA",
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, ok := FallbackParse(tt.text)
			if ok != tt.ok {
				t.Fatalf("FallbackParse(%q) ok = %v, want %v", tt.text, ok, tt.ok)
			}
			if !ok {
				return
			}
			if payload.Action != domain.ActionAddCard {
				t.Errorf("Expected ADD_CARD action, got %s", payload.Action)
			}
			card := payload.Card
			if card.Ticker != tt.ticker || card.Price != tt.price || card.Quantity != tt.quantity {
				t.Errorf("Got card %+v, want ticker=%s price=%v quantity=%d", card, tt.ticker, tt.price, tt.quantity)
			}
			if card.Column != tt.stage {
				t.Errorf("Got stage %s, want %s", card.Column, tt.stage)
			}
		})
	}
}
