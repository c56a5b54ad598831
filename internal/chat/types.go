package chat

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/andy6609/mafia-chat/internal/protocol"
)

// Connection is one accepted client socket. The name is empty until the
// registry accepts it and is only set by the registry goroutine.
type Connection struct {
	ID   string
	Conn net.Conn
	Peer string

	name atomic.Value  // string
	out  chan []byte   // outbound frames drained by the writer goroutine
	sent chan struct{} // poked by the writer after each frame

	closeOnce sync.Once
	done      chan struct{}
}

func NewConnection(conn net.Conn, queue int) *Connection {
	if queue <= 0 {
		queue = 1
	}
	peer := ""
	if addr := conn.RemoteAddr(); addr != nil {
		peer = addr.String()
	}
	return &Connection{
		ID:   uuid.NewString(),
		Conn: conn,
		Peer: peer,
		out:  make(chan []byte, queue),
		sent: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Name returns the negotiated display name, empty before registration.
func (c *Connection) Name() string {
	name, _ := c.name.Load().(string)
	return name
}

// Send queues a frame without blocking. It reports false when the queue is
// full or the connection is closed; the frame is dropped in both cases.
func (c *Connection) Send(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.out <- frame:
		return true
	default:
		return false
	}
}

func (c *Connection) SendMessage(m protocol.Message) bool {
	return c.Send(protocol.Encode(m))
}

// SendWait queues a frame, waiting up to timeout for room. A timeout of zero
// waits until the connection is closed.
func (c *Connection) SendWait(frame []byte, timeout time.Duration) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	expired, stop := deadline(timeout)
	defer stop()
	select {
	case c.out <- frame:
		return true
	case <-c.done:
		return false
	case <-expired:
		return false
	}
}

// awaitRoom blocks until the outbound queue has a free slot. It is only
// meaningful while the caller is the sole producer for c.
func (c *Connection) awaitRoom(timeout time.Duration) bool {
	expired, stop := deadline(timeout)
	defer stop()
	for len(c.out) == cap(c.out) {
		select {
		case <-c.sent:
		case <-c.done:
			return false
		case <-expired:
			return false
		}
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

func deadline(timeout time.Duration) (<-chan time.Time, func()) {
	if timeout <= 0 {
		return nil, func() {}
	}
	t := time.NewTimer(timeout)
	return t.C, func() { t.Stop() }
}

// Close is safe to call from any goroutine and more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.Conn.Close()
	})
	return err
}

// Done is closed once Close has been called.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

var (
	ErrNameConflict      = errorString("name already taken")
	ErrInvalidName       = protocol.ErrInvalidName
	ErrAlreadyRegistered = errorString("connection already registered")
	ErrRegistryStopped   = errorString("registry stopped")
	ErrQueueFull         = errorString("outbound queue full")
)

type errorString string

func (e errorString) Error() string { return string(e) }
