package cache

import (
	"sync"
	"time"

	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
)

// TicketCache keeps the last access ticket issued to each tenant in memory.
type TicketCache struct {
	mu      sync.RWMutex
	tickets map[string]fiscal.Ticket
}

// NewTicketCache creates a new thread-safe ticket cache.
func NewTicketCache() *TicketCache {
	return &TicketCache{tickets: make(map[string]fiscal.Ticket)}
}

// Get returns the tenant's ticket while it is usable at now with margin to spare.
func (c *TicketCache) Get(tenantID string, now time.Time, margin time.Duration) (fiscal.Ticket, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ticket, ok := c.tickets[tenantID]
	if !ok || !ticket.UsableAt(now, margin) {
		return fiscal.Ticket{}, false
	}
	return ticket, true
}

// Set stores a ticket. Zero tickets are ignored.
func (c *TicketCache) Set(tenantID string, ticket fiscal.Ticket) {
	if ticket.IsZero() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tickets[tenantID] = ticket
}

// Clear removes the tenant's cached ticket.
func (c *TicketCache) Clear(tenantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.tickets, tenantID)
}

// Len returns the number of cached tickets, expired ones included.
func (c *TicketCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.tickets)
}
