package exchange

import (
	"sync"
	"time"

	"arbreferee/internal/model"
)

type cacheKey struct {
	exchange string
	symbol   string
}

type cacheEntry struct {
	book     model.Orderbook
	bookAt   time.Time
	ticker   model.Ticker
	tickerAt time.Time
}

// BookCache stores the latest ticker and orderbook per (exchange, symbol).
// Entries older than the TTL are evicted when read.
type BookCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[cacheKey]*cacheEntry
}

// NewBookCache creates a cache whose entries live for ttl.
func NewBookCache(ttl time.Duration) *BookCache {
	return &BookCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[cacheKey]*cacheEntry),
	}
}

// PutOrderbook stores ob under its exchange and symbol.
func (c *BookCache) PutOrderbook(ob model.Orderbook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entry(cacheKey{ob.Exchange, ob.Symbol})
	e.book = ob
	e.bookAt = c.now()
}

// PutTicker stores t under its exchange and symbol.
func (c *BookCache) PutTicker(t model.Ticker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entry(cacheKey{t.Exchange, t.Symbol})
	e.ticker = t
	e.tickerAt = c.now()
}

// Orderbook returns the cached book if it is younger than the TTL.
func (c *BookCache) Orderbook(exchange, symbol string) (model.Orderbook, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := cacheKey{exchange, symbol}
	e, ok := c.entries[key]
	if !ok || e.bookAt.IsZero() {
		return model.Orderbook{}, false
	}
	if c.now().Sub(e.bookAt) > c.ttl {
		e.book, e.bookAt = model.Orderbook{}, time.Time{}
		c.evictIfEmpty(key, e)
		return model.Orderbook{}, false
	}
	return e.book, true
}

// Ticker returns the cached ticker if it is younger than the TTL.
func (c *BookCache) Ticker(exchange, symbol string) (model.Ticker, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := cacheKey{exchange, symbol}
	e, ok := c.entries[key]
	if !ok || e.tickerAt.IsZero() {
		return model.Ticker{}, false
	}
	if c.now().Sub(e.tickerAt) > c.ttl {
		e.ticker, e.tickerAt = model.Ticker{}, time.Time{}
		c.evictIfEmpty(key, e)
		return model.Ticker{}, false
	}
	return e.ticker, true
}

// Len returns the number of (exchange, symbol) pairs held.
func (c *BookCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *BookCache) entry(key cacheKey) *cacheEntry {
	e, ok := c.entries[key]
	if !ok {
		e = &cacheEntry{}
		c.entries[key] = e
	}
	return e
}

func (c *BookCache) evictIfEmpty(key cacheKey, e *cacheEntry) {
	if e.bookAt.IsZero() && e.tickerAt.IsZero() {
		delete(c.entries, key)
	}
}
