package processor

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/kinbanker/tojvs-new/internal/domain"
)

var (
	tickerPattern   = regexp.MustCompile(`\b([A-Z][A-Z0-9]{0,9})\b`)
	pricePattern    = regexp.MustCompile(`(\d+\.?\d*)`)
	quantityPattern = regexp.MustCompile(`(\d+)\s*(?:주|shares?)`)
)

const defaultQuantity = 100

// FallbackParse is the degraded-mode local parser used when the
// processor webhook is unreachable. It only understands plain buy/sell
// commands ("SQQQ 17.9 1000주 매수", "buy TSLA 250"); anything else
// returns false and the user sees a transport error instead.
func FallbackParse(text string) (*domain.KanbanPayload, bool) {
	lower := strings.ToLower(text)

	var stage domain.Stage
	switch {
	case strings.Contains(text, "매수"), strings.Contains(lower, "buy"):
		stage = domain.StageIntakeBuy
	case strings.Contains(text, "매도"), strings.Contains(lower, "sell"):
		stage = domain.StageIntakeSell
	default:
		return nil, false
	}

	ticker := tickerPattern.FindString(text)
	if ticker == "" {
		return nil, false
	}

	var price float64
	// Skip numbers that are part of the ticker itself.
	for _, m := range pricePattern.FindAllString(strings.Replace(text, ticker, "", 1), -1) {
		if p, err := strconv.ParseFloat(m, 64); err == nil && p > 0 {
			price = p
			break
		}
	}
	if price == 0 {
		return nil, false
	}

	quantity := defaultQuantity
	if m := quantityPattern.FindStringSubmatch(text); m != nil {
		if q, err := strconv.Atoi(m[1]); err == nil && q > 0 {
			quantity = q
		}
	}

	return &domain.KanbanPayload{
		Action: domain.ActionAddCard,
		Card: &domain.ResultCard{
			Ticker:   ticker,
			Price:    price,
			Quantity: quantity,
			Column:   stage,
		},
	}, true
}
