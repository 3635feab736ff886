package client

import (
	"time"

	"github.com/kinbanker/tojvs-new/internal/domain"
)

// Freshness classifies a result's age relative to its type's
// usefulness horizon. Stale results are still processed; they are just
// presented as historical instead of current.
type Freshness int

// Freshness classes.
const (
	Live Freshness = iota
	Historical
)

// Type-specific staleness thresholds. Quotes and charts age out almost
// immediately; news stays current for minutes. Board mutations and
// errors have no horizon.
const (
	marketThreshold = time.Second
	chartThreshold  = time.Second
	newsThreshold   = 5 * time.Minute
)

// Classify returns the freshness of a result of the given type stamped
// at ts, observed at now.
func Classify(typ domain.ResultType, ts, now time.Time) Freshness {
	var threshold time.Duration
	switch typ {
	case domain.ResultMarket:
		threshold = marketThreshold
	case domain.ResultChart:
		threshold = chartThreshold
	case domain.ResultNews:
		threshold = newsThreshold
	default:
		return Live
	}
	if now.Sub(ts) > threshold {
		return Historical
	}
	return Live
}
