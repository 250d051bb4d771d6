package tracker

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Throttle enforces minimum spacing between requests of the same class
// across all clients of the process.
type Throttle struct {
	page     *rate.Limiter
	search   *rate.Limiter
	download *rate.Limiter
}

func newLimiter(d time.Duration) *rate.Limiter {
	if d <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(d), 1)
}

func NewThrottle(page, search, download time.Duration) *Throttle {
	return &Throttle{
		page:     newLimiter(page),
		search:   newLimiter(search),
		download: newLimiter(download),
	}
}

type requestClass int

const (
	pageRequest requestClass = iota
	searchRequest
	downloadRequest
)

func (s *Throttle) Wait(ctx context.Context, rc requestClass) error {
	switch rc {
	case searchRequest:
		return s.search.Wait(ctx)
	case downloadRequest:
		return s.download.Wait(ctx)
	default:
		return s.page.Wait(ctx)
	}
}
