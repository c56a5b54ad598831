// Package client is the player side of the protocol: it opens the session,
// answers name challenges and shows relayed chat to the operator.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"

	"github.com/gookit/color"

	"github.com/andy6609/mafia-chat/internal/protocol"
)

var (
	ErrNotRegistered = errors.New("client: name not accepted yet")
	ErrServerClosed  = errors.New("client: server closed the connection")
)

type handlerFunc func(ctx context.Context, m protocol.Message) error

type Driver struct {
	conn     net.Conn
	dec      *protocol.Decoder
	prompter Prompter
	out      io.Writer
	logger   *slog.Logger
	maxFrame int

	handlers map[protocol.Kind]handlerFunc

	writeMu        sync.Mutex
	name           atomic.Value // string
	registered     chan struct{}
	registeredOnce sync.Once
}

type Option func(d *Driver)

// WithOutput sets where relayed chat and diagnostics are printed.
func WithOutput(w io.Writer) Option {
	return func(d *Driver) { d.out = w }
}

func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) { d.logger = logger }
}

// WithMaxFrame bounds a single server frame.
func WithMaxFrame(n int) Option {
	return func(d *Driver) { d.maxFrame = n }
}

// Dial connects to addr and sends the preamble.
func Dial(ctx context.Context, addr string, prompter Prompter, opts ...Option) (*Driver, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}

	d := New(conn, prompter, opts...)
	if err := d.write(protocol.Encode(protocol.PreambleMessage())); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send preamble: %w", err)
	}
	return d, nil
}

// New wraps an established connection. The preamble is not sent.
func New(conn net.Conn, prompter Prompter, opts ...Option) *Driver {
	d := &Driver{
		conn:       conn,
		prompter:   prompter,
		out:        os.Stdout,
		logger:     slog.Default(),
		registered: make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	d.dec = protocol.NewDecoder(conn, d.maxFrame)
	d.handlers = map[protocol.Kind]handlerFunc{
		protocol.KindNameRequest: d.requestName,
		protocol.KindChatLine:    d.printChatLine,
	}
	return d
}

// Run processes server commands until ctx is done or the connection ends.
// Cancelling ctx is a clean stop and returns nil.
func (d *Driver) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = d.conn.Close() })
	defer stop()

	for {
		m, err := d.dec.Next()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, protocol.ErrFrameTooLong) {
				d.logger.Warn("skipped oversized frame from server")
				continue
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return ErrServerClosed
			}
			return fmt.Errorf("read: %w", err)
		}

		if err := d.dispatch(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// Send forwards one operator line once the server accepted a name.
func (d *Driver) Send(line string) error {
	select {
	case <-d.registered:
	default:
		return ErrNotRegistered
	}
	return d.write(protocol.Encode(protocol.ChatLine("", line)))
}

// Registered is closed once the server accepted a name.
func (d *Driver) Registered() <-chan struct{} {
	return d.registered
}

func (d *Driver) Name() string {
	name, _ := d.name.Load().(string)
	return name
}

func (d *Driver) Close() error {
	return d.conn.Close()
}

func (d *Driver) dispatch(ctx context.Context, m protocol.Message) error {
	if h, ok := d.handlers[m.Kind]; ok {
		return h(ctx, m)
	}
	d.printRaw(m)
	return nil
}

// requestName answers a name challenge, retrying until the server accepts.
func (d *Driver) requestName(ctx context.Context, _ protocol.Message) error {
	for {
		name, err := d.prompter.PromptName(ctx)
		if err != nil {
			return fmt.Errorf("prompt name: %w", err)
		}
		if err := d.write(protocol.Encode(protocol.ChatLine("", name))); err != nil {
			return fmt.Errorf("send name: %w", err)
		}

		reply, err := d.dec.Next()
		if err != nil {
			return fmt.Errorf("read name reply: %w", err)
		}

		switch reply.Kind {
		case protocol.KindNameAccepted:
			d.name.Store(name)
			d.registeredOnce.Do(func() { close(d.registered) })
			fmt.Fprintln(d.out, color.Green.Sprintf("joined as %s", name))
			return nil
		case protocol.KindNameRejected:
			fmt.Fprintln(d.out, color.Red.Sprintf("err %s", reply.Reason))
			// The server follows a rejection with a fresh challenge.
			next, err := d.dec.Next()
			if err != nil {
				return fmt.Errorf("read name challenge: %w", err)
			}
			if next.Kind != protocol.KindNameRequest {
				return d.dispatch(ctx, next)
			}
		default:
			return d.dispatch(ctx, reply)
		}
	}
}

func (d *Driver) printChatLine(_ context.Context, m protocol.Message) error {
	if m.Sender == "" {
		fmt.Fprintln(d.out, m.Body)
		return nil
	}
	fmt.Fprintf(d.out, "%s:: %s\n", color.Cyan.Sprint(m.Sender), m.Body)
	return nil
}

func (d *Driver) printRaw(m protocol.Message) {
	fmt.Fprintln(d.out, color.Yellow.Sprintf("%q", protocol.Encode(m)))
}

func (d *Driver) write(frame []byte) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	_, err := d.conn.Write(frame)
	return err
}
