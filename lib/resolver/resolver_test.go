package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/ValentinKolb/replkv/lib/conn"
	"github.com/ValentinKolb/replkv/lib/conn/memconn"
	"github.com/ValentinKolb/replkv/lib/endpoint"
	"github.com/ValentinKolb/replkv/lib/stats"
)

func ep(name string) endpoint.Endpoint {
	return endpoint.Endpoint{Host: endpoint.MemScheme + name}
}

func eps(names ...string) []endpoint.Endpoint {
	out := make([]endpoint.Endpoint, len(names))
	for i, n := range names {
		out[i] = ep(n)
	}
	return out
}

func sameHosts(a, b []endpoint.Endpoint) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestResolveRoundRobin(t *testing.T) {
	r := New(Config{Masters: eps("a", "b")}, memconn.NewNetwork(), stats.New())

	want := []string{"a", "b", "a", "b"}
	for i, name := range want {
		got, err := r.ResolveMaster(i)
		if err != nil {
			t.Fatal(err)
		}
		if got != ep(name) {
			t.Errorf("ResolveMaster(%d) = %v, want %v", i, got, ep(name))
		}
	}
}

func TestSlavesFallBackToMasters(t *testing.T) {
	r := New(Config{Masters: eps("a", "b")}, memconn.NewNetwork(), stats.New())

	if r.SlaveCount() != 2 {
		t.Errorf("SlaveCount = %d, want master count 2", r.SlaveCount())
	}
	got, err := r.ResolveSlave(1)
	if err != nil || got != ep("b") {
		t.Errorf("ResolveSlave(1) = %v, %v; want b", got, err)
	}

	empty := New(Config{}, memconn.NewNetwork(), stats.New())
	if _, err := empty.ResolveSlave(0); !errors.Is(err, ErrNoHosts) {
		t.Errorf("expected ErrNoHosts, got %v", err)
	}
}

func TestVerifiedMasterIsReturned(t *testing.T) {
	n := memconn.NewNetwork()
	n.AddServer(ep("m").Host, conn.RoleMaster)
	st := stats.New()
	r := New(Config{Masters: eps("m"), VerifyMaster: true}, n, st)

	c, err := r.CreateMasterConnection(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if c.Endpoint() != ep("m") {
		t.Errorf("connected to %v", c.Endpoint())
	}
	if st.Snapshot().InvalidMasters != 0 {
		t.Error("no invalid master expected")
	}
}

func TestRoleMismatchReprobes(t *testing.T) {
	n := memconn.NewNetwork()
	old := n.AddServer(ep("m1").Host, conn.RoleMaster)
	promoted := n.AddReplica(ep("s1").Host, old)
	n.AddReplica(ep("s2").Host, old)

	st := stats.New()
	r := New(Config{Masters: eps("m1"), Slaves: eps("s1", "s2"), VerifyMaster: true}, n, st)

	// s1 took over without the client being told
	old.SetRole(conn.RoleSlave)
	promoted.SetRole(conn.RoleMaster)

	c, err := r.CreateMasterConnection(context.Background(), 0)
	if err != nil {
		t.Fatalf("expected re-probe to find the new master: %v", err)
	}
	defer c.Close()

	if c.Endpoint() != ep("s1") {
		t.Errorf("connected to %v, want s1", c.Endpoint())
	}
	if !sameHosts(r.Masters(), eps("s1")) {
		t.Errorf("masters = %v, want [s1]", r.Masters())
	}
	if !sameHosts(r.Slaves(), eps("m1", "s2")) {
		t.Errorf("slaves = %v, want [m1 s2]", r.Slaves())
	}

	snap := st.Snapshot()
	if snap.InvalidMasters != 1 {
		t.Errorf("InvalidMasters = %d, want 1", snap.InvalidMasters)
	}
	if snap.HostResets != 2 {
		t.Errorf("HostResets = %d, want 2", snap.HostResets)
	}
}

func TestReprobeExcludesUnreachableHosts(t *testing.T) {
	n := memconn.NewNetwork()
	old := n.AddServer(ep("m1").Host, conn.RoleMaster)
	down := n.AddReplica(ep("s1").Host, old)
	next := n.AddReplica(ep("s2").Host, old)

	r := New(Config{Masters: eps("m1"), Slaves: eps("s1", "s2"), VerifyMaster: true}, n, stats.New())

	old.SetRole(conn.RoleSlave)
	down.SetDown(true)
	next.SetRole(conn.RoleMaster)

	c, err := r.CreateMasterConnection(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if c.Endpoint() != ep("s2") {
		t.Errorf("connected to %v, want s2", c.Endpoint())
	}
	if !sameHosts(r.Slaves(), eps("m1")) {
		t.Errorf("down host should be excluded, slaves = %v", r.Slaves())
	}
	// the excluded host is still known and will be probed next time
	if len(r.AllHosts()) != 3 {
		t.Errorf("AllHosts = %v", r.AllHosts())
	}
}

func TestNoMasterFound(t *testing.T) {
	n := memconn.NewNetwork()
	m := n.AddServer(ep("m1").Host, conn.RoleSlave)
	n.AddReplica(ep("s1").Host, m)

	st := stats.New()
	r := New(Config{Masters: eps("m1"), Slaves: eps("s1"), VerifyMaster: true}, n, st)

	_, err := r.CreateMasterConnection(context.Background(), 0)
	if !errors.Is(err, ErrNoMasterFound) {
		t.Fatalf("expected ErrNoMasterFound, got %v", err)
	}
	if st.Snapshot().NoMastersFound != 1 {
		t.Error("NoMastersFound should be counted")
	}
	if !sameHosts(r.Masters(), eps("m1")) {
		t.Error("lists must stay untouched when no master was found")
	}
}

func TestSlaveConnectionIsNotVerified(t *testing.T) {
	n := memconn.NewNetwork()
	m := n.AddServer(ep("m").Host, conn.RoleMaster)
	n.AddReplica(ep("s").Host, m)

	st := stats.New()
	r := New(Config{Masters: eps("m"), Slaves: eps("s"), VerifyMaster: true}, n, st)

	c, err := r.CreateSlaveConnection(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if c.Endpoint() != ep("s") || st.Snapshot().InvalidMasters != 0 {
		t.Errorf("slave connection should go to s without verification")
	}
}

func TestAllHostsOnlyGrows(t *testing.T) {
	r := New(Config{Masters: eps("a"), Slaves: eps("b")}, memconn.NewNetwork(), stats.New())

	r.ResetMasters(eps("c"))
	r.ResetSlaves(nil)
	r.ResetMasters(eps("a", "c"))

	if !sameHosts(r.AllHosts(), eps("a", "b", "c")) {
		t.Errorf("AllHosts = %v, want [a b c]", r.AllHosts())
	}
	if r.MasterCount() != 2 || r.SlaveCount() != 2 {
		t.Errorf("counts = %d/%d", r.MasterCount(), r.SlaveCount())
	}
}
