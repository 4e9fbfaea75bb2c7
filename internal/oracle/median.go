package oracle

import (
	"context"
	"fmt"
	"sort"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/spacewager/internal/domain"
)

// Median picks a configured rank out of the most recent feed reports.
type Median struct {
	feed   domain.FeedSource
	window int
	rank   int
}

var _ domain.PriceOracle = (*Median)(nil)

// NewMedian creates a median-of-feed oracle. It requires 0 < rank < window-1
// so the chosen report is never an extreme of a full window.
func NewMedian(feed domain.FeedSource, window, rank int) (*Median, error) {
	if window < 3 || rank <= 0 || rank >= window-1 {
		return nil, fmt.Errorf("oracle: median: rank %d must satisfy 0 < rank < %d", rank, window-1)
	}
	return &Median{feed: feed, window: window, rank: rank}, nil
}

// Name returns "median".
func (o *Median) Name() string { return "median" }

// FetchPrice drops reports dated after q.Now, sorts the rest by price and
// returns the one at the configured rank. The rank must fall strictly inside
// the remaining set.
func (o *Median) FetchPrice(ctx context.Context, q domain.PriceQuery) (domain.PriceReading, error) {
	reports, err := o.feed.LatestReports(ctx, o.window)
	if err != nil {
		return domain.PriceReading{}, fmt.Errorf("oracle: median: feed: %w: %w", domain.ErrPriceUnavailable, err)
	}

	valid := make([]domain.PriceReport, 0, len(reports))
	for _, r := range reports {
		if r.Timestamp.After(q.Now) {
			continue
		}
		valid = append(valid, r)
	}
	if o.rank >= len(valid)-1 {
		return domain.PriceReading{}, fmt.Errorf("oracle: median: %d usable reports for rank %d: %w",
			len(valid), o.rank, domain.ErrPriceUnavailable)
	}

	sort.SliceStable(valid, func(i, j int) bool {
		return valid[i].Price.Lt(&valid[j].Price)
	})
	price := new(uint256.Int).Set(&valid[o.rank].Price)
	return domain.PriceReading{Price: price}, nil
}
