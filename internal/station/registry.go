package station

import (
	"sort"
	"sync"
)

// Registry is the in-memory view of every station a node has heard from.
// Updates are atomic per station; All may observe a mix of old and new
// entries across different stations while writers are active.
type Registry struct {
	m sync.Map // id -> *State
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Upsert records a measurement. A station seen for the first time starts with
// defaultInterval and not suspended; afterwards only the value, flag and
// timestamp change.
func (r *Registry) Upsert(m Measurement, defaultInterval float64) State {
	value := m.Value
	for {
		cur, ok := r.m.Load(m.StationID)
		if !ok {
			fresh := &State{
				ID:              m.StationID,
				Type:            m.Type,
				LastValue:       &value,
				Flag:            m.Flag,
				LastTimestamp:   m.Timestamp,
				IntervalMinutes: defaultInterval,
			}
			if _, loaded := r.m.LoadOrStore(m.StationID, fresh); !loaded {
				return *fresh
			}
			continue
		}
		old := cur.(*State)
		next := *old
		next.LastValue = &value
		next.Flag = m.Flag
		next.LastTimestamp = m.Timestamp
		if r.m.CompareAndSwap(m.StationID, old, &next) {
			return next
		}
	}
}

// ApplyCommand applies cmd to its target station, or to every station of the
// target type for broadcasts. Unknown targets are ignored. It returns how many
// stations were changed.
func (r *Registry) ApplyCommand(cmd Command) int {
	if cmd.TargetStationID != "" {
		if r.update(cmd.TargetStationID, cmd) {
			return 1
		}
		return 0
	}
	if cmd.TargetType == "" {
		return 0
	}
	n := 0
	r.m.Range(func(key, value any) bool {
		if value.(*State).Type.Is(cmd.TargetType) && r.update(key.(string), cmd) {
			n++
		}
		return true
	})
	return n
}

func (r *Registry) update(id string, cmd Command) bool {
	for {
		cur, ok := r.m.Load(id)
		if !ok {
			return false
		}
		old := cur.(*State)
		next := old.Apply(cmd)
		if r.m.CompareAndSwap(id, old, &next) {
			return true
		}
	}
}

// Restore seeds a station loaded from durable storage. An entry that already
// exists wins.
func (r *Registry) Restore(s State) bool {
	_, loaded := r.m.LoadOrStore(s.ID, &s)
	return !loaded
}

func (r *Registry) TryGet(id string) (State, bool) {
	v, ok := r.m.Load(id)
	if !ok {
		return State{}, false
	}
	return *v.(*State), true
}

// All returns a point-in-time copy of every station, ordered by id.
func (r *Registry) All() []State {
	var out []State
	r.m.Range(func(_, value any) bool {
		out = append(out, *value.(*State))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Len() int {
	n := 0
	r.m.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
