package chat

import (
	"net"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/andy6609/mafia-chat/internal/protocol"
)

func newRunningRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(128, nil)
	go r.Run()
	t.Cleanup(func() {
		r.Stop()
		r.Wait()
	})
	return r
}

func newTestConnection(t *testing.T, queue int) *Connection {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		_ = server.Close()
		_ = client.Close()
	})
	return NewConnection(server, queue)
}

func mustRegister(t *testing.T, r *Registry, c *Connection, name string) {
	t.Helper()
	require.NoError(t, r.Register(name, c), "register(%s)", name)
}

func waitForFrame(t *testing.T, c *Connection) string {
	t.Helper()
	select {
	case frame := <-c.out:
		return string(frame)
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for a frame on %s", c.Name())
		return ""
	}
}

func requireNoFrame(t *testing.T, c *Connection) {
	t.Helper()
	select {
	case frame := <-c.out:
		t.Fatalf("unexpected frame on %s: %q", c.Name(), frame)
	default:
	}
}

func TestRegistry_RegisterRejectsDuplicateName(t *testing.T) {
	req := require.New(t)
	r := newRunningRegistry(t)

	c1 := newTestConnection(t, 8)
	c2 := newTestConnection(t, 8)

	req.NoError(r.Register("alice", c1))
	req.ErrorIs(r.Register("alice", c2), ErrNameConflict)

	// Names are case sensitive
	req.NoError(r.Register("Alice", c2))
	req.Equal([]string{"alice", "Alice"}, r.Names())
}

func TestRegistry_RegisterRejectsInvalidName(t *testing.T) {
	req := require.New(t)
	r := newRunningRegistry(t)
	c := newTestConnection(t, 8)

	for _, name := range []string{"", "123abc", "-x", "a b"} {
		req.ErrorIs(r.Register(name, c), ErrInvalidName, name)
	}
	req.Zero(r.Len())
	requireNoFrame(t, c)
}

func TestRegistry_RegisterRejectsSameConnectionTwice(t *testing.T) {
	req := require.New(t)
	r := newRunningRegistry(t)
	c := newTestConnection(t, 8)

	mustRegister(t, r, c, "alice")
	req.ErrorIs(r.Register("alice2", c), ErrAlreadyRegistered)
	req.Equal("alice", c.Name())
}

func TestRegistry_RegisterQueuesAcknowledgment(t *testing.T) {
	req := require.New(t)
	r := newRunningRegistry(t)
	c := newTestConnection(t, 8)

	req.Empty(c.Name())
	mustRegister(t, r, c, "alice")

	req.Equal("alice", c.Name())
	req.Equal("{request-name-set}", waitForFrame(t, c))
}

func TestRegistry_RegisterRefusesConnectionWithoutRoomForAck(t *testing.T) {
	req := require.New(t)
	r := newRunningRegistry(t)

	// Given a connection whose queue is already full
	c := newTestConnection(t, 1)
	req.True(c.Send([]byte("{request-name}")))

	// Then registration fails and the connection stays out of the relay
	req.ErrorIs(r.Register("alice", c), ErrQueueFull)
	req.Zero(r.Len())
	req.Empty(c.Name())
	req.Equal("{request-name}", waitForFrame(t, c))

	// And once there is room the same name goes through with its ack
	mustRegister(t, r, c, "alice")
	req.Equal("{request-name-set}", waitForFrame(t, c))
}

func TestRegistry_UnregisterIsIdempotent(t *testing.T) {
	req := require.New(t)
	r := newRunningRegistry(t)

	alice := newTestConnection(t, 8)
	bob := newTestConnection(t, 8)
	stranger := newTestConnection(t, 8)
	mustRegister(t, r, alice, "alice")
	mustRegister(t, r, bob, "bob")

	r.Unregister(bob)
	req.Equal([]string{"alice"}, r.Names())

	// When removing again, or removing something never registered
	r.Unregister(bob)
	r.Unregister(stranger)
	r.Unregister(nil)

	// Then nothing changes
	req.Equal([]string{"alice"}, r.Names())

	// And the freed name can be taken again
	req.NoError(r.Register("bob", stranger))
}

func TestRegistry_AllConnectionsExcept(t *testing.T) {
	req := require.New(t)
	r := newRunningRegistry(t)

	alice := newTestConnection(t, 8)
	bob := newTestConnection(t, 8)
	carol := newTestConnection(t, 8)
	mustRegister(t, r, alice, "alice")
	mustRegister(t, r, bob, "bob")
	mustRegister(t, r, carol, "carol")

	seq := r.AllConnectionsExcept("bob")

	// Given a registration that happens after the call
	dave := newTestConnection(t, 8)
	mustRegister(t, r, dave, "dave")

	// Then the sequence reflects the state at call time, in insertion order,
	// and can be consumed more than once
	first := slices.Collect(seq)
	second := slices.Collect(seq)
	req.Equal([]*Connection{alice, carol}, first)
	req.Equal(first, second)

	req.Len(slices.Collect(r.AllConnectionsExcept("nobody")), 4)
}

func TestRegistry_ConcurrentRegistrationKeepsNamesUnique(t *testing.T) {
	req := require.New(t)
	r := newRunningRegistry(t)

	const attempts = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < attempts; i++ {
		c := newTestConnection(t, 8)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Register("wolf", c) == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	req.Equal(1, success)
	req.Equal([]string{"wolf"}, r.Names())
}

func TestRegistry_StoppedRegistryRefusesWork(t *testing.T) {
	req := require.New(t)
	r := NewRegistry(1, nil)
	go r.Run()
	r.Stop()
	r.Wait()

	c := newTestConnection(t, 8)
	req.ErrorIs(r.Register("alice", c), ErrRegistryStopped)
	r.Unregister(c)
	req.Empty(slices.Collect(r.AllConnectionsExcept("")))
	req.Zero(r.Len())
}

func TestBroadcast_SkipsSenderAndFullQueues(t *testing.T) {
	req := require.New(t)
	r := newRunningRegistry(t)

	alice := newTestConnection(t, 8)
	bob := newTestConnection(t, 8)
	// slow has room for the acknowledgment only
	slow := newTestConnection(t, 1)
	mustRegister(t, r, alice, "alice")
	mustRegister(t, r, bob, "bob")
	mustRegister(t, r, slow, "slow")

	for _, c := range []*Connection{alice, bob} {
		req.Equal(string(protocol.Encode(protocol.NameAccepted())), waitForFrame(t, c))
	}

	delivered := Broadcast(r, "alice", "hello", nil)

	req.Equal(1, delivered)
	req.Equal("alice:: hello\n", waitForFrame(t, bob))
	requireNoFrame(t, alice)
}

func TestBroadcast_SkipsClosedConnections(t *testing.T) {
	req := require.New(t)
	r := newRunningRegistry(t)

	alice := newTestConnection(t, 8)
	bob := newTestConnection(t, 8)
	mustRegister(t, r, alice, "alice")
	mustRegister(t, r, bob, "bob")

	req.NoError(bob.Close())
	req.NoError(bob.Close())

	req.Zero(Broadcast(r, "alice", "anyone?", nil))
}
