package chat

import (
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/andy6609/mafia-chat/internal/protocol"
)

type EventType int

const (
	EventRegister EventType = iota
	EventUnregister
	EventSnapshot
)

func (t EventType) String() string {
	switch t {
	case EventRegister:
		return "register"
	case EventUnregister:
		return "unregister"
	case EventSnapshot:
		return "snapshot"
	default:
		return "unknown"
	}
}

type Event struct {
	Type      EventType
	Conn      *Connection
	Name      string
	ReplyChan chan error         // register and unregister ack
	Snapshot  chan []*Connection // snapshot reply
}

// Registry is the authoritative set of named connections. All state lives in
// the Run goroutine; the exported methods talk to it through events.
type Registry struct {
	events   chan Event
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	logger   *slog.Logger
}

func NewRegistry(buffer int, logger *slog.Logger) *Registry {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		events: make(chan Event, buffer),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		logger: logger,
	}
}

// Stop signals the Run loop to exit.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// Wait blocks until the Run loop has completely finished.
func (r *Registry) Wait() {
	<-r.doneCh
}

func (r *Registry) Run() {
	defer close(r.doneCh)
	// Single-writer ownership: this slice is only accessed in this goroutine.
	// Insertion order is kept for iteration.
	var clients []*Connection

	for {
		select {
		case ev := <-r.events:
			start := time.Now()

			switch ev.Type {
			case EventRegister:
				clients = r.handleRegister(clients, ev)
				ConnectedClients.Set(float64(len(clients)))
			case EventUnregister:
				clients = r.handleUnregister(clients, ev)
				ConnectedClients.Set(float64(len(clients)))
			case EventSnapshot:
				ev.Snapshot <- lo.Filter(clients, func(c *Connection, _ int) bool {
					return c.Name() != ev.Name
				})
			}

			RegistryEventsTotal.WithLabelValues(ev.Type.String()).Inc()
			EventProcessingDuration.WithLabelValues(ev.Type.String()).Observe(time.Since(start).Seconds())
		case <-r.stopCh:
			return
		}
	}
}

// Register adds c under name. On success the acceptance acknowledgment is
// queued on c before any relay traffic can reach it. If c's queue has no
// room for the acknowledgment, c is not added and ErrQueueFull is returned.
func (r *Registry) Register(name string, c *Connection) error {
	reply := make(chan error, 1)
	if !r.submit(Event{Type: EventRegister, Conn: c, Name: name, ReplyChan: reply}) {
		return ErrRegistryStopped
	}
	select {
	case err := <-reply:
		return err
	case <-r.doneCh:
		return ErrRegistryStopped
	}
}

// Unregister removes c. Removing a connection that is not registered is a no-op.
func (r *Registry) Unregister(c *Connection) {
	if c == nil {
		return
	}
	reply := make(chan error, 1)
	if !r.submit(Event{Type: EventUnregister, Conn: c, ReplyChan: reply}) {
		return
	}
	select {
	case <-reply:
	case <-r.doneCh:
	}
}

// AllConnectionsExcept returns the connections registered at call time whose
// name differs from name. The sequence can be ranged over more than once.
func (r *Registry) AllConnectionsExcept(name string) iter.Seq[*Connection] {
	snapshot := r.snapshot(name)
	return func(yield func(*Connection) bool) {
		for _, c := range snapshot {
			if !yield(c) {
				return
			}
		}
	}
}

// Names lists registered names in registration order.
func (r *Registry) Names() []string {
	return lo.Map(r.snapshot(""), func(c *Connection, _ int) string {
		return c.Name()
	})
}

func (r *Registry) Len() int {
	return len(r.snapshot(""))
}

func (r *Registry) snapshot(except string) []*Connection {
	reply := make(chan []*Connection, 1)
	if !r.submit(Event{Type: EventSnapshot, Name: except, Snapshot: reply}) {
		return nil
	}
	select {
	case s := <-reply:
		return s
	case <-r.doneCh:
		return nil
	}
}

func (r *Registry) submit(ev Event) bool {
	select {
	case r.events <- ev:
		return true
	case <-r.doneCh:
		return false
	}
}

func (r *Registry) handleRegister(clients []*Connection, ev Event) []*Connection {
	err := checkRegistration(clients, ev.Name, ev.Conn)
	if err == nil && !ev.Conn.SendMessage(protocol.NameAccepted()) {
		// A connection is only a member once its ack is queued.
		err = ErrQueueFull
	}
	if err == nil {
		ev.Conn.name.Store(ev.Name)
		clients = append(clients, ev.Conn)
		r.logger.Info("connection registered", "conn_id", ev.Conn.ID, "name", ev.Name, "addr", ev.Conn.Peer)
	}
	ev.ReplyChan <- err
	return clients
}

func checkRegistration(clients []*Connection, name string, c *Connection) error {
	if c == nil {
		return ErrInvalidName
	}
	if err := protocol.ValidateName(name); err != nil {
		return err
	}
	if lo.Contains(clients, c) {
		return ErrAlreadyRegistered
	}
	if lo.ContainsBy(clients, func(other *Connection) bool { return other.Name() == name }) {
		return ErrNameConflict
	}
	return nil
}

func (r *Registry) handleUnregister(clients []*Connection, ev Event) []*Connection {
	defer close(ev.ReplyChan)

	remaining := lo.Reject(clients, func(c *Connection, _ int) bool { return c == ev.Conn })
	if len(remaining) != len(clients) {
		r.logger.Info("connection unregistered", "conn_id", ev.Conn.ID, "name", ev.Conn.Name(), "addr", ev.Conn.Peer)
	}
	return remaining
}
