// README: In-process, per-org subscriber registry guarded by a mutex.
// Publish is always non-blocking.
package realtime

import (
	"sync"

	"github.com/go-logr/logr"

	"github.com/orro3790/dispatch/internal/types"
)

type subscriber struct {
	id uint64
	ch chan Event
}

type chanRegistry struct {
	mu     sync.Mutex
	nextID uint64
	byOrg  map[types.ID][]subscriber
}

func newChanRegistry() chanRegistry {
	return chanRegistry{byOrg: make(map[types.ID][]subscriber)}
}

func (r *chanRegistry) subscribe(orgID types.ID, buffer int) (<-chan Event, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	ch := make(chan Event, buffer)
	r.byOrg[orgID] = append(r.byOrg[orgID], subscriber{id: id, ch: ch})

	unsubscribe := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		subs := r.byOrg[orgID]
		for i, s := range subs {
			if s.id == id {
				r.byOrg[orgID] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
		if len(r.byOrg[orgID]) == 0 {
			delete(r.byOrg, orgID)
		}
	}
	return ch, unsubscribe
}

// fanOutLocal delivers event to every local subscriber of orgID. A
// subscriber whose buffer is full is skipped (dropped), never blocked on.
func (r *chanRegistry) fanOutLocal(orgID types.ID, event Event, log logr.Logger) {
	r.mu.Lock()
	subs := append([]subscriber(nil), r.byOrg[orgID]...)
	r.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- event:
		default:
			log.Info("broadcast: dropping event for slow local subscriber", "orgID", orgID, "type", event.Type)
		}
	}
}
