package db

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"

	"github.com/banshee-data/bledoubt/internal/monitoring"
)

type subscriber struct {
	filter DeviceFilter
	ch     chan []DeviceMetadata
}

// hub fans device-list snapshots out to subscribers. Each subscriber channel
// holds at most one snapshot: a slow reader only ever sees the latest list.
type hub struct {
	mu     sync.Mutex
	subs   map[string]*subscriber
	closed bool

	// publishMu orders snapshots so an older list is never delivered after a
	// newer one.
	publishMu sync.Mutex
}

func newHub() *hub {
	return &hub{subs: make(map[string]*subscriber)}
}

// randomID generates a random subscription ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe registers for device-list snapshots matching f. The current list
// is delivered immediately. The subscription ends on Unsubscribe, when ctx is
// done or when the store is closed; the channel is then closed.
func (db *DB) Subscribe(ctx context.Context, f DeviceFilter) (string, <-chan []DeviceMetadata, error) {
	if _, err := ParseDeviceFilter(string(f)); err != nil {
		return "", nil, err
	}
	if f == "" {
		f = FilterAll
	}

	initial, err := db.Devices(ctx, f)
	if err != nil {
		return "", nil, err
	}

	id := randomID()
	sub := &subscriber{filter: f, ch: make(chan []DeviceMetadata, 1)}
	sub.ch <- initial

	db.subs.mu.Lock()
	if db.subs.closed {
		db.subs.mu.Unlock()
		close(sub.ch)
		return id, sub.ch, nil
	}
	db.subs.subs[id] = sub
	db.subs.mu.Unlock()

	go func() {
		<-ctx.Done()
		db.Unsubscribe(id)
	}()
	return id, sub.ch, nil
}

// Unsubscribe ends the subscription id and closes its channel.
func (db *DB) Unsubscribe(id string) {
	db.subs.mu.Lock()
	defer db.subs.mu.Unlock()
	if sub, ok := db.subs.subs[id]; ok {
		close(sub.ch)
		delete(db.subs.subs, id)
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, sub := range h.subs {
		close(sub.ch)
		delete(h.subs, id)
	}
}

// publish recomputes the list for every filter in use and hands it to the
// matching subscribers without blocking.
func (db *DB) publish(ctx context.Context) {
	h := db.subs
	h.publishMu.Lock()
	defer h.publishMu.Unlock()

	h.mu.Lock()
	filters := make(map[DeviceFilter]struct{})
	for _, sub := range h.subs {
		filters[sub.filter] = struct{}{}
	}
	h.mu.Unlock()
	if len(filters) == 0 {
		return
	}

	// Writers may have been cancelled after committing; the snapshot still
	// has to go out.
	ctx = context.WithoutCancel(ctx)
	lists := make(map[DeviceFilter][]DeviceMetadata, len(filters))
	for f := range filters {
		list, err := db.Devices(ctx, f)
		if err != nil {
			monitoring.Logf("failed to publish %s device list: %v", f, err)
			continue
		}
		lists[f] = list
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		list, ok := lists[sub.filter]
		if !ok {
			continue
		}
		select {
		case sub.ch <- list:
		default:
			// drop the stale snapshot
			select {
			case <-sub.ch:
			default:
			}
			sub.ch <- list
		}
	}
}
