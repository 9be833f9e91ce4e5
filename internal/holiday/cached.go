package holiday

import (
	"context"
	"sync/atomic"

	"bookingsched/internal/calendar"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultCacheSize = 512

// Cached memoizes a slower Calendar. Lookup errors are never cached.
type Cached struct {
	next    Calendar
	holiday *lru.Cache[calendar.Date, bool]
	prev    *lru.Cache[calendar.Date, calendar.Date]

	hits   atomic.Uint64
	misses atomic.Uint64
}

var _ Calendar = (*Cached)(nil)

type CacheStats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	Size   int    `json:"size"`
}

func NewCached(next Calendar, size int) (*Cached, error) {
	if size <= 0 {
		size = defaultCacheSize
	}
	h, err := lru.New[calendar.Date, bool](size)
	if err != nil {
		return nil, err
	}
	p, err := lru.New[calendar.Date, calendar.Date](size)
	if err != nil {
		return nil, err
	}
	return &Cached{next: next, holiday: h, prev: p}, nil
}

func (c *Cached) IsHoliday(ctx context.Context, d calendar.Date) (bool, error) {
	if v, ok := c.holiday.Get(d); ok {
		c.hits.Add(1)
		return v, nil
	}
	c.misses.Add(1)
	v, err := c.next.IsHoliday(ctx, d)
	if err != nil {
		return false, err
	}
	c.holiday.Add(d, v)
	return v, nil
}

func (c *Cached) PreviousWorkingDay(ctx context.Context, d calendar.Date) (calendar.Date, error) {
	if v, ok := c.prev.Get(d); ok {
		c.hits.Add(1)
		return v, nil
	}
	c.misses.Add(1)
	v, err := c.next.PreviousWorkingDay(ctx, d)
	if err != nil {
		return calendar.Date{}, err
	}
	c.prev.Add(d, v)
	return v, nil
}

// Purge drops every cached answer, e.g. after the holiday list changes.
func (c *Cached) Purge() {
	c.holiday.Purge()
	c.prev.Purge()
}

func (c *Cached) Stats() CacheStats {
	return CacheStats{Hits: c.hits.Load(), Misses: c.misses.Load(), Size: c.holiday.Len() + c.prev.Len()}
}
