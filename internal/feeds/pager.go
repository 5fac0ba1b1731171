package feeds

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"gemfeed/internal/config"
)

var ErrBudgetExceeded = errors.New("fetch budget exceeded")

type PageOptions struct {
	// EmptyPageRetries is how many empty pages in a row are re-requested
	// before the feed is considered drained.
	EmptyPageRetries int
	Budget           time.Duration
	RefreshEvery     time.Duration
	DelayMax         time.Duration
}

func PageOptionsFromConfig(cfg config.Config) PageOptions {
	return PageOptions{
		EmptyPageRetries: cfg.EmptyPageRetries,
		Budget:           cfg.FetchBudget,
		RefreshEvery:     cfg.CredRefresh,
		DelayMax:         cfg.PageDelayMax,
	}
}

// Page is one fetched page. More is false when the vendor says there is
// nothing after it.
type Page[T any] struct {
	Items []T
	More  bool
}

type PageStats struct {
	Pages   int
	Records int
	Repeats int
}

// Pager walks a paginated vendor API. It stops when a page brings no record
// id it has not seen before, which guards against APIs that keep returning
// the last page.
type Pager[T any] struct {
	Options PageOptions
	Fetch   func(ctx context.Context, page int) (Page[T], error)
	ID      func(T) string
	// Refresh renews credentials; it runs before the first page is fetched
	// after RefreshEvery has elapsed.
	Refresh func(ctx context.Context) error

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

func (p *Pager[T]) Run(ctx context.Context, yield func(T) error) (PageStats, error) {
	now := p.now
	if now == nil {
		now = time.Now
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = Sleep
	}

	var stats PageStats
	seen := map[string]struct{}{}
	started := now()
	refreshed := started
	empties := 0

	for page := 1; ; {
		if p.Options.Budget > 0 && now().Sub(started) > p.Options.Budget {
			return stats, ErrBudgetExceeded
		}
		if p.Refresh != nil && p.Options.RefreshEvery > 0 && now().Sub(refreshed) > p.Options.RefreshEvery {
			if err := p.Refresh(ctx); err != nil {
				return stats, err
			}
			refreshed = now()
		}

		result, err := p.Fetch(ctx, page)
		if err != nil {
			return stats, err
		}
		stats.Pages++

		if len(result.Items) == 0 {
			if !result.More || empties >= p.Options.EmptyPageRetries {
				return stats, nil
			}
			empties++
			if err := sleep(ctx, p.delay()); err != nil {
				return stats, err
			}
			continue
		}
		empties = 0

		fresh := 0
		for _, item := range result.Items {
			id := p.ID(item)
			if id != "" {
				if _, ok := seen[id]; ok {
					stats.Repeats++
					continue
				}
				seen[id] = struct{}{}
			}
			fresh++
			stats.Records++
			if err := yield(item); err != nil {
				return stats, err
			}
		}
		if fresh == 0 || !result.More {
			return stats, nil
		}

		page++
		if err := sleep(ctx, p.delay()); err != nil {
			return stats, err
		}
	}
}

func (p *Pager[T]) delay() time.Duration {
	if p.Options.DelayMax <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(p.Options.DelayMax)))
}
