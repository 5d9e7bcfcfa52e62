package lockbox

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
	"github.com/yiplee/go-cache"
	"golang.org/x/sync/singleflight"
)

// Quote is one oracle sample. Price is a fixed-point value with Scale as
// its divisor.
type Quote struct {
	Price     decimal.Decimal `json:"price"`
	Scale     decimal.Decimal `json:"scale"`
	Timestamp time.Time       `json:"ts"`
}

// Stale reports whether the quote is older than the window at the given
// time. A quote exactly at the window boundary is still trusted.
func (q *Quote) Stale(now time.Time, window time.Duration) bool {
	return now.Sub(q.Timestamp) > window
}

// Oracle answers the two price queries the engine needs: the freshest
// quote at creation, and the quote nearest a pinned timestamp at release.
type Oracle interface {
	Latest(ctx context.Context, symbol string) (*Quote, error)
	At(ctx context.Context, symbol string, ts time.Time) (*Quote, error)
}

// ReflectorClient reads quotes from a reflector price feed over HTTP.
// Historical quotes never change, so they are cached forever; latest-quote
// fetches are deduplicated but always hit the feed.
type ReflectorClient struct {
	c      *resty.Client
	quotes *cache.Cache[string, *Quote]
	sf     singleflight.Group
}

var _ Oracle = (*ReflectorClient)(nil)

func NewReflectorClient(baseURL string) *ReflectorClient {
	return &ReflectorClient{
		c: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(10 * time.Second),
		quotes: cache.New[string, *Quote](),
	}
}

type quoteBody struct {
	Price string `json:"price"`
	Scale string `json:"scale"`
	Ts    int64  `json:"ts"`
}

func (r *ReflectorClient) Latest(ctx context.Context, symbol string) (*Quote, error) {
	v, err, _ := r.sf.Do("last:"+symbol, func() (any, error) {
		return r.fetch(ctx, "/prices/last", map[string]string{
			"symbol": symbol,
		})
	})

	if err != nil {
		return nil, err
	}

	return v.(*Quote), nil
}

func (r *ReflectorClient) At(ctx context.Context, symbol string, ts time.Time) (*Quote, error) {
	key := fmt.Sprintf("at:%s:%d", symbol, ts.Unix())
	if q, ok := r.quotes.Get(key); ok {
		return q, nil
	}

	v, err, _ := r.sf.Do(key, func() (any, error) {
		q, err := r.fetch(ctx, "/prices/at", map[string]string{
			"symbol": symbol,
			"ts":     cast.ToString(ts.Unix()),
		})
		if err != nil {
			return nil, err
		}

		r.quotes.Set(key, q)
		return q, nil
	})

	if err != nil {
		return nil, err
	}

	return v.(*Quote), nil
}

func (r *ReflectorClient) fetch(ctx context.Context, path string, params map[string]string) (*Quote, error) {
	var body quoteBody
	resp, err := r.c.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(&body).
		Get(path)

	if err != nil {
		return nil, fmt.Errorf("oracle fetch failed: %w", err)
	}

	if resp.IsError() {
		return nil, fmt.Errorf("oracle fetch failed: %s", resp.Status())
	}

	price, err := decimal.NewFromString(body.Price)
	if err != nil {
		return nil, fmt.Errorf("oracle price: %w", err)
	}

	scale, err := decimal.NewFromString(body.Scale)
	if err != nil {
		return nil, fmt.Errorf("oracle scale: %w", err)
	}

	return &Quote{
		Price:     price,
		Scale:     scale,
		Timestamp: time.Unix(body.Ts, 0),
	}, nil
}
