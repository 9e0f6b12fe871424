package delivery

import (
	"sync"

	"meteomesh/internal/station"
)

const DefaultCapacity = 1024

type entry struct {
	seq uint64
	cmd station.Command
}

// Mailbox keeps a bounded append-only log of commands. Each station id owns
// a read cursor into the log, so a command is seen once by every matching
// station no matter how many other streams are reading. Cursors survive
// reconnects.
type Mailbox struct {
	mu       sync.Mutex
	log      []entry
	nextSeq  uint64
	capacity int
	cursors  map[string]uint64
	notify   chan struct{}
}

func NewMailbox(capacity int) *Mailbox {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Mailbox{
		nextSeq:  1,
		capacity: capacity,
		cursors:  make(map[string]uint64),
		notify:   make(chan struct{}),
	}
}

func (m *Mailbox) Publish(cmd station.Command) {
	m.mu.Lock()
	m.log = append(m.log, entry{seq: m.nextSeq, cmd: cmd})
	m.nextSeq++
	if over := len(m.log) - m.capacity; over > 0 {
		m.log = append(m.log[:0:0], m.log[over:]...)
	}
	close(m.notify)
	m.notify = make(chan struct{})
	m.mu.Unlock()
}

// Len is the number of retained commands.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.log)
}

func (m *Mailbox) Subscribe(stationID string, stationType station.Type) Subscription {
	return &mailboxSub{box: m, id: stationID, typ: stationType}
}

func (m *Mailbox) pending(id string, typ station.Type) []station.Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	cursor := m.cursors[id]
	var out []station.Command
	for _, e := range m.log {
		if e.seq <= cursor {
			continue
		}
		if e.cmd.Matches(id, typ) {
			out = append(out, e.cmd)
		}
	}
	m.cursors[id] = m.nextSeq - 1
	return out
}

func (m *Mailbox) ready() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.notify
}

type mailboxSub struct {
	box *Mailbox
	id  string
	typ station.Type
}

func (s *mailboxSub) Pending() []station.Command { return s.box.pending(s.id, s.typ) }

func (s *mailboxSub) Ready() <-chan struct{} { return s.box.ready() }

// Close leaves the cursor in place for the next stream of the same station.
func (s *mailboxSub) Close() {}
