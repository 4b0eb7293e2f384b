package memberlist

import (
	"context"
	"log"
	"net"
	"strconv"
	"testing"
	"time"

	base "github.com/amirimatin/go-consensus/pkg/membership"
)

func freePort(t *testing.T) int {
	t.Helper()
	a, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("freePort: %v", err)
	}
	defer a.Close()
	return a.LocalAddr().(*net.UDPAddr).Port
}

func TestMemberlist_StartLocal(t *testing.T) {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(freePort(t)))
	m, err := New(Options{NodeID: "t1", Bind: addr, Advertise: addr, Logger: log.Default(), ProbeInterval: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Stop()

	if got := m.Local().ID; got != "t1" {
		t.Fatalf("local id = %q, want t1", got)
	}
	if got := len(m.Members()); got != 1 {
		t.Fatalf("members = %d, want 1", got)
	}

	if hr, ok := m.(base.HealthReporter); ok {
		if s := hr.HealthScore(); s < -1 {
			t.Fatalf("unexpected health score: %d", s)
		}
	} else {
		t.Fatalf("impl does not implement HealthReporter")
	}
}

func TestMemberlist_MetaCarriesMgmtAddr(t *testing.T) {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(freePort(t)))
	m, err := New(Options{NodeID: "t2", Bind: addr, Advertise: addr, Meta: map[string]string{"mgmt": "127.0.0.1:17946"}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Stop()

	if got := m.Local().Meta["mgmt"]; got != "127.0.0.1:17946" {
		t.Fatalf("mgmt meta = %q, want 127.0.0.1:17946", got)
	}
}

func TestMemberlist_RequiresIdentity(t *testing.T) {
	if _, err := New(Options{Bind: ":7946"}); err == nil {
		t.Fatalf("expected error for empty NodeID")
	}
	if _, err := New(Options{NodeID: "x"}); err == nil {
		t.Fatalf("expected error for empty Bind")
	}
}
