package ledger

import "sync"

// CurrencyLocks serializes fee processing per currency. Two concurrent
// events in the same currency must never both observe a pool above the
// flush threshold, so the read-modify-write-persist cycle (and any flush)
// runs entirely under that currency's lock.
type CurrencyLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewCurrencyLocks creates an empty lock table.
func NewCurrencyLocks() *CurrencyLocks {
	return &CurrencyLocks{locks: make(map[string]*sync.Mutex)}
}

// Get returns the mutex for a currency, creating it on first use.
func (c *CurrencyLocks) Get(currency string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[currency]
	if !ok {
		l = &sync.Mutex{}
		c.locks[currency] = l
	}
	return l
}
