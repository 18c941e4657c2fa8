package pool

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/replkv/lib/endpoint"
	"github.com/ValentinKolb/replkv/lib/stats"
)

// SlotInfo describes one slot
type SlotInfo struct {
	State    string `json:"state"`
	Active   bool   `json:"active"`
	Host     string `json:"host,omitempty"`
	ClientID uint64 `json:"clientId,omitempty"`
}

// ArraySnapshot describes one slot array
type ArraySnapshot struct {
	Name      string     `json:"name"`
	Size      int        `json:"size"`
	Cursor    int        `json:"cursor"`
	Created   int        `json:"created"`
	Connected int        `json:"connected"`
	Faulty    int        `json:"faulty"`
	Active    int        `json:"active"`
	Slots     []SlotInfo `json:"slots"`
}

// Snapshot is a point-in-time view of the pool
type Snapshot struct {
	Write       ArraySnapshot  `json:"write"`
	Read        *ArraySnapshot `json:"read,omitempty"`
	Masters     []string       `json:"masters"`
	Slaves      []string       `json:"slaves"`
	AllHosts    []string       `json:"allHosts"`
	Deactivated int            `json:"deactivatedPending"`
	Stats       stats.Snapshot `json:"stats"`
}

// Snapshot captures the state of both slot arrays, the host lists and the
// counters. The read array is omitted in single pool mode.
func (m *Manager) Snapshot() Snapshot {
	s := Snapshot{
		Write:       m.write.snapshot(),
		Masters:     hostNames(m.resolver.Masters()),
		Slaves:      hostNames(m.resolver.Slaves()),
		AllHosts:    hostNames(m.resolver.AllHosts()),
		Deactivated: m.registry.Pending(),
		Stats:       m.stats.Snapshot(),
	}
	if m.read != m.write {
		r := m.read.snapshot()
		s.Read = &r
	}
	return s
}

func (p *slotPool) snapshot() ArraySnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	a := ArraySnapshot{
		Name:   p.name,
		Size:   len(p.slots),
		Cursor: p.cursor,
		Slots:  make([]SlotInfo, len(p.slots)),
	}
	for i, s := range p.slots {
		info := SlotInfo{State: s.state.String()}
		if c := s.client; c != nil {
			a.Created++
			info.ClientID = c.ID()
			info.Host = c.Endpoint().String()
			info.Active = c.IsActive()
			if info.Active {
				a.Active++
			}
			if c.Conn().Usable() {
				a.Connected++
			}
			if s.state == slotFaulty || !c.IsHealthy() {
				a.Faulty++
				info.State = slotFaulty.String()
			}
		}
		a.Slots[i] = info
	}
	return a
}

// ActiveStates returns the per-slot active flags
func (a ArraySnapshot) ActiveStates() []bool {
	out := make([]bool, len(a.Slots))
	for i, s := range a.Slots {
		out[i] = s.Active
	}
	return out
}

// String renders a compact human readable report
func (s Snapshot) String() string {
	var sb strings.Builder
	writeArray := func(a ArraySnapshot) {
		fmt.Fprintf(&sb, "%s pool: size=%d created=%d connected=%d active=%d faulty=%d\n",
			a.Name, a.Size, a.Created, a.Connected, a.Active, a.Faulty)
		sb.WriteString("  slots: ")
		for _, slot := range a.Slots {
			switch {
			case slot.State == "faulty":
				sb.WriteByte('x')
			case slot.Active:
				sb.WriteByte('#')
			case slot.State == "occupied":
				sb.WriteByte('o')
			case slot.State == "reserved":
				sb.WriteByte('r')
			default:
				sb.WriteByte('.')
			}
		}
		sb.WriteByte('\n')
	}

	writeArray(s.Write)
	if s.Read != nil {
		writeArray(*s.Read)
	}
	fmt.Fprintf(&sb, "masters: %s\n", strings.Join(s.Masters, ", "))
	fmt.Fprintf(&sb, "slaves: %s\n", strings.Join(s.Slaves, ", "))
	fmt.Fprintf(&sb, "deactivated pending: %d\n", s.Deactivated)

	st := s.Stats
	fmt.Fprintf(&sb, "clients created: %d (outside pool: %d), deactivated: %d\n",
		st.ClientsCreated, st.ClientsCreatedOutsidePool, st.ClientsDeactivated)
	fmt.Fprintf(&sb, "failovers: %d, retries: %d (succeeded: %d, timed out: %d), pool timeouts: %d\n",
		st.Failovers, st.Retries, st.RetrySuccesses, st.RetryTimeouts, st.PoolTimeouts)
	return sb.String()
}

func hostNames(eps []endpoint.Endpoint) []string {
	out := make([]string, len(eps))
	for i, ep := range eps {
		out[i] = ep.String()
	}
	return out
}
