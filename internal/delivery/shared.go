package delivery

import (
	"sync"

	"meteomesh/internal/station"
)

// SharedQueue is a single queue drained by every reader. A reader takes
// everything queued and keeps only what matches its own station, so commands
// for other stations are dropped if that reader gets there first.
type SharedQueue struct {
	mu    sync.Mutex
	items []station.Command
}

func NewSharedQueue() *SharedQueue {
	return &SharedQueue{}
}

func (q *SharedQueue) Publish(cmd station.Command) {
	q.mu.Lock()
	q.items = append(q.items, cmd)
	q.mu.Unlock()
}

func (q *SharedQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *SharedQueue) Subscribe(stationID string, stationType station.Type) Subscription {
	return &sharedSub{q: q, id: stationID, typ: stationType}
}

func (q *SharedQueue) drain() []station.Command {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

type sharedSub struct {
	q   *SharedQueue
	id  string
	typ station.Type
}

func (s *sharedSub) Pending() []station.Command {
	var out []station.Command
	for _, cmd := range s.q.drain() {
		if cmd.Matches(s.id, s.typ) {
			out = append(out, cmd)
		}
	}
	return out
}

func (s *sharedSub) Ready() <-chan struct{} { return nil }

func (s *sharedSub) Close() {}
