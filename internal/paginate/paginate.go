package paginate

import (
	"context"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/zerobugdebug/slack-harvester/internal/ratelimit"
	"github.com/zerobugdebug/slack-harvester/internal/retry"
)

// Limit is an optional cap on the total number of items. The zero value is
// unlimited.
type Limit struct {
	n   int
	set bool
}

// Unlimited fetches until the server runs out of pages.
var Unlimited = Limit{}

// AtMost caps the total at n. A cap of zero or less fetches nothing.
func AtMost(n int) Limit { return Limit{n: n, set: true} }

// Value returns the cap and whether one is set.
func (l Limit) Value() (int, bool) { return l.n, l.set }

func (l Limit) remaining(have int) int {
	if !l.set {
		return math.MaxInt
	}
	return l.n - have
}

// Page is one response of a cursor-paginated listing.
type Page[T any] struct {
	Items      []T
	NextCursor string
}

// Request describes one paginated listing.
type Request[T any] struct {
	Method  string
	Tier    ratelimit.Tier
	PerPage int
	Limit   Limit

	// Fetch performs the remote call for one page. It runs under the tier
	// gate through the executor.
	Fetch func(ctx context.Context, cursor string, limit int) (Page[T], error)

	// Expand optionally post-processes each page outside the tier gate, for
	// example to append thread replies. Expanded items count toward Limit.
	Expand func(ctx context.Context, items []T) []T
}

// All follows cursors until the server signals the last page or the limit is
// reached. Page sizes shrink as the limit approaches. On error the items
// collected so far are returned along with it.
func All[T any](ctx context.Context, ex *retry.Executor, req Request[T]) ([]T, error) {
	var (
		items  []T
		cursor string
		pages  int
	)

	for {
		remaining := req.Limit.remaining(len(items))
		if remaining <= 0 {
			break
		}

		pageSize := req.PerPage
		if remaining < pageSize {
			pageSize = remaining
		}

		log.Trace().
			Str("method", req.Method).
			Str("cursor", cursor).
			Int("pageSize", pageSize).
			Msg("Fetching page")

		currentCursor := cursor
		page, err := retry.Do(ctx, ex, req.Tier, req.Method, func(ctx context.Context) (Page[T], error) {
			return req.Fetch(ctx, currentCursor, pageSize)
		}, nil)
		if err != nil {
			return truncate(items, req.Limit), err
		}
		pages++

		got := page.Items
		if req.Expand != nil && len(got) > 0 {
			got = req.Expand(ctx, got)
		}
		items = append(items, got...)

		if page.NextCursor == "" {
			break
		}
		if page.NextCursor == cursor {
			log.Warn().
				Str("method", req.Method).
				Str("cursor", cursor).
				Msg("Server repeated pagination cursor, stopping")
			break
		}
		cursor = page.NextCursor
	}

	log.Debug().
		Str("method", req.Method).
		Int("pages", pages).
		Int("items", len(items)).
		Msg("Pagination finished")

	return truncate(items, req.Limit), nil
}

func truncate[T any](items []T, l Limit) []T {
	if n, ok := l.Value(); ok {
		if n < 0 {
			n = 0
		}
		if len(items) > n {
			return items[:n]
		}
	}
	return items
}
