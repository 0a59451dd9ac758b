package conpro

import (
	"fmt"
	"sync"

	"github.com/arloliu/go-conpro/eip"
)

const maxReserveAttempts = 256

// routeTable maps T->O connection ids to consumers across all sessions.
//
// An id is either bound (routed to a consumer) or reserved (proposed in an outstanding Forward_Open).
// reserve never hands out an id in either set.
type routeTable struct {
	mu       sync.RWMutex
	routes   map[uint32]*Consumer
	reserved map[uint32]struct{}
	gen      func() uint32
}

func newRouteTable() *routeTable {
	return &routeTable{
		routes:   make(map[uint32]*Consumer),
		reserved: make(map[uint32]struct{}),
		gen:      eip.GenerateConnectionID,
	}
}

// reserve draws a T->O connection id proposal that is neither bound nor reserved.
func (rt *routeTable) reserve() (uint32, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	for range maxReserveAttempts {
		id := rt.gen()
		if _, ok := rt.routes[id]; ok {
			continue
		}
		if _, ok := rt.reserved[id]; ok {
			continue
		}
		rt.reserved[id] = struct{}{}

		return id, nil
	}

	return 0, fmt.Errorf("%w: no free id after %d attempts", ErrConnectionIDInUse, maxReserveAttempts)
}

func (rt *routeTable) release(id uint32) {
	rt.mu.Lock()
	delete(rt.reserved, id)
	rt.mu.Unlock()
}

// bind routes id to c. It fails if id is already routed.
func (rt *routeTable) bind(id uint32, c *Consumer) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if _, ok := rt.routes[id]; ok {
		return fmt.Errorf("%w: 0x%08X", ErrConnectionIDInUse, id)
	}
	rt.routes[id] = c

	return nil
}

// unbind removes the route of id if it still points to c.
func (rt *routeTable) unbind(id uint32, c *Consumer) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if cur, ok := rt.routes[id]; ok && cur == c {
		delete(rt.routes, id)
		return true
	}

	return false
}

func (rt *routeTable) lookup(id uint32) (*Consumer, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	c, ok := rt.routes[id]

	return c, ok
}

func (rt *routeTable) len() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	return len(rt.routes)
}
