// Package central implements the central server: the registry of local
// nodes, health tracking, and fan-out queries across nodes.
package central

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"meteomesh/internal/clock"
	"meteomesh/internal/metrics"
)

const DefaultOfflineAfter = 5 * time.Minute

// Node is a registered local node. Values stored in the manager are never
// mutated in place.
type Node struct {
	ID           string
	Name         string
	URL          string
	Location     string
	Latitude     *float64
	Longitude    *float64
	IsOnline     bool
	LastSeen     time.Time
	RegisteredAt time.Time
	Stations     []Station
}

// Station is a station as last reported by its node.
type Station struct {
	NodeID          string
	StationID       string
	Name            string
	Type            string
	IsActive        bool
	LastMeasurement time.Time
	LastValue       float64
	Quality         string
}

// Registration carries what a node announces about itself.
type Registration struct {
	ID        string
	Name      string
	URL       string
	Location  string
	Latitude  *float64
	Longitude *float64
}

// Counts summarizes the manager's view.
type Counts struct {
	Nodes          int
	OnlineNodes    int
	Stations       int
	ActiveStations int
}

// Manager tracks local nodes. A node goes offline only when it is read
// after offlineAfter without contact; there is no background expiry.
type Manager struct {
	nodes        sync.Map // id -> *Node
	clock        clock.Clock
	offlineAfter time.Duration
	logger       *slog.Logger
}

func NewManager(c clock.Clock, offlineAfter time.Duration, logger *slog.Logger) *Manager {
	if offlineAfter <= 0 {
		offlineAfter = DefaultOfflineAfter
	}
	return &Manager{clock: c, offlineAfter: offlineAfter, logger: logger.With("component", "node_manager")}
}

// RegisterNode inserts or replaces the node's identity and marks it online.
// Known stations are kept across re-registration, as are location and
// coordinates the new registration leaves out.
func (m *Manager) RegisterNode(reg Registration) Node {
	now := m.clock.Now()
	for {
		cur, ok := m.nodes.Load(reg.ID)
		if !ok {
			n := &Node{
				ID:           reg.ID,
				Name:         reg.Name,
				URL:          reg.URL,
				Location:     reg.Location,
				Latitude:     reg.Latitude,
				Longitude:    reg.Longitude,
				IsOnline:     true,
				LastSeen:     now,
				RegisteredAt: now,
			}
			if _, loaded := m.nodes.LoadOrStore(reg.ID, n); !loaded {
				m.logger.Info("node registered", "node_id", reg.ID, "url", reg.URL)
				m.updateGauges()
				return *n
			}
			continue
		}
		old := cur.(*Node)
		next := *old
		next.Name = reg.Name
		next.URL = reg.URL
		if reg.Location != "" {
			next.Location = reg.Location
		}
		if reg.Latitude != nil {
			next.Latitude = reg.Latitude
		}
		if reg.Longitude != nil {
			next.Longitude = reg.Longitude
		}
		next.IsOnline = true
		next.LastSeen = now
		if m.nodes.CompareAndSwap(reg.ID, old, &next) {
			m.logger.Info("node re-registered", "node_id", reg.ID, "url", reg.URL)
			m.updateGauges()
			return next
		}
	}
}

// UpdateNodeStatus sets the node's online flag. Going online refreshes
// LastSeen. Unknown nodes are ignored.
func (m *Manager) UpdateNodeStatus(id string, online bool) {
	var changed bool
	ok := m.modify(id, func(n *Node) {
		changed = n.IsOnline != online
		n.IsOnline = online
		if online {
			n.LastSeen = m.clock.Now()
		}
	})
	if !ok {
		if online {
			m.logger.Warn("status update for unknown node", "node_id", id)
		}
		return
	}
	if changed {
		if online {
			m.logger.Info("node online", "node_id", id)
		} else {
			m.logger.Info("node offline", "node_id", id)
		}
		m.updateGauges()
	}
}

// UpdateNodeStations replaces the node's station list and marks it online.
func (m *Manager) UpdateNodeStations(id string, stations []Station) {
	list := make([]Station, len(stations))
	copy(list, stations)
	for i := range list {
		list[i].NodeID = id
	}
	now := m.clock.Now()
	var cameOnline bool
	ok := m.modify(id, func(n *Node) {
		cameOnline = !n.IsOnline
		n.Stations = list
		n.IsOnline = true
		n.LastSeen = now
	})
	if !ok {
		m.logger.Warn("station update for unknown node", "node_id", id, "stations", len(stations))
		return
	}
	if cameOnline {
		m.logger.Info("node online", "node_id", id)
		m.updateGauges()
	}
	m.logger.Debug("node stations updated", "node_id", id, "stations", len(list))
}

// GetAllNodes expires stale nodes and returns every node ordered by id.
func (m *Manager) GetAllNodes() []Node {
	now := m.clock.Now()
	var out []Node
	expired := false
	m.nodes.Range(func(key, value any) bool {
		id := key.(string)
		n := value.(*Node)
		if n.IsOnline && now.Sub(n.LastSeen) > m.offlineAfter {
			next := *n
			next.IsOnline = false
			if m.nodes.CompareAndSwap(id, n, &next) {
				m.logger.Info("node offline", "node_id", id, "last_seen", n.LastSeen)
				expired = true
				n = &next
			} else if cur, ok := m.nodes.Load(id); ok {
				n = cur.(*Node)
			}
		}
		out = append(out, *n)
		return true
	})
	if expired {
		m.updateGauges()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Manager) GetNode(id string) (Node, bool) {
	v, ok := m.nodes.Load(id)
	if !ok {
		return Node{}, false
	}
	return *v.(*Node), true
}

// GetAllStations lists the stations of every node, ordered by node then
// station id.
func (m *Manager) GetAllStations() []Station {
	var out []Station
	m.nodes.Range(func(_, value any) bool {
		out = append(out, value.(*Node).Stations...)
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].NodeID != out[j].NodeID {
			return out[i].NodeID < out[j].NodeID
		}
		return out[i].StationID < out[j].StationID
	})
	return out
}

func (m *Manager) GetStationsForNode(id string) []Station {
	n, ok := m.GetNode(id)
	if !ok {
		return nil
	}
	out := make([]Station, len(n.Stations))
	copy(out, n.Stations)
	return out
}

func (m *Manager) Counts() Counts {
	var c Counts
	m.nodes.Range(func(_, value any) bool {
		n := value.(*Node)
		c.Nodes++
		if n.IsOnline {
			c.OnlineNodes++
		}
		for _, s := range n.Stations {
			c.Stations++
			if s.IsActive {
				c.ActiveStations++
			}
		}
		return true
	})
	return c
}

// modify applies fn to a copy of the node and swaps it in. It reports false
// when the node is unknown.
func (m *Manager) modify(id string, fn func(*Node)) bool {
	for {
		cur, ok := m.nodes.Load(id)
		if !ok {
			return false
		}
		old := cur.(*Node)
		next := *old
		fn(&next)
		if m.nodes.CompareAndSwap(id, old, &next) {
			return true
		}
	}
}

func (m *Manager) updateGauges() {
	c := m.Counts()
	metrics.NodesKnown.Set(float64(c.Nodes))
	metrics.NodesOnline.Set(float64(c.OnlineNodes))
}
