package chat

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"
	"unicode"

	"github.com/andy6609/mafia-chat/internal/protocol"
)

type SessionConfig struct {
	// HandshakeTimeout bounds preamble and name negotiation together.
	HandshakeTimeout time.Duration
	// IdleTimeout closes registered connections that stay silent; 0 disables it.
	IdleTimeout  time.Duration
	WriteTimeout time.Duration
	// MaxLineBytes is the read buffer size and therefore the longest accepted line.
	MaxLineBytes int
	// MaxNameLength caps display names in bytes; 0 leaves only MaxLineBytes.
	MaxNameLength int
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		HandshakeTimeout: 30 * time.Second,
		WriteTimeout:     10 * time.Second,
		MaxLineBytes:     protocol.DefaultMaxFrame,
	}
}

// errSendStalled means a handshake frame could not be queued: the connection
// closed or the client stopped reading for longer than WriteTimeout.
var errSendStalled = errors.New("handshake send stalled")

// HandleSession runs one connection from accept to close: preamble check,
// name negotiation, then the relay read loop.
func HandleSession(c *Connection, reg *Registry, cfg SessionConfig, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("conn_id", c.ID, "addr", c.Peer)

	defer func() {
		if p := recover(); p != nil {
			log.Error("session panic", "panic", p)
		}
		reg.Unregister(c)
		_ = c.Close()
	}()

	StartOutboundWriter(c, cfg.WriteTimeout, log)

	reader := bufio.NewReaderSize(c.Conn, cfg.MaxLineBytes)

	if cfg.HandshakeTimeout > 0 {
		_ = c.Conn.SetReadDeadline(time.Now().Add(cfg.HandshakeTimeout))
	}

	if err := protocol.ReadPreamble(reader); err != nil {
		if errors.Is(err, protocol.ErrProtocolViolation) {
			HandshakeFailuresTotal.WithLabelValues("protocol-violation").Inc()
			log.Warn("invalid preamble from client", "error", err)
			return
		}
		handshakeAborted(log, err)
		return
	}
	log.Info("accepted preamble from client")

	name, err := negotiateName(c, reader, reg, cfg, log)
	if err != nil {
		handshakeAborted(log, err)
		return
	}

	_ = c.Conn.SetReadDeadline(time.Time{})
	relayLoop(c, reader, reg, cfg, log.With("name", name))
}

func negotiateName(c *Connection, reader *bufio.Reader, reg *Registry, cfg SessionConfig, log *slog.Logger) (string, error) {
	for {
		if !c.SendWait(protocol.Encode(protocol.NameRequest()), cfg.WriteTimeout) {
			return "", errSendStalled
		}

		line, err := protocol.ReadLine(reader)
		if err != nil && !errors.Is(err, protocol.ErrLineTooLong) {
			return "", err
		}
		name := strings.TrimRightFunc(line, unicode.IsSpace)

		if err != nil || !nameFits(name, cfg.MaxNameLength) || protocol.ValidateName(name) != nil {
			if err := reject(c, protocol.ReasonInvalidName, cfg, log, name); err != nil {
				return "", err
			}
			continue
		}

		switch err := register(c, reg, name, cfg.WriteTimeout); {
		case err == nil:
			return name, nil
		case errors.Is(err, ErrNameConflict):
			if err := reject(c, protocol.ReasonNameTaken, cfg, log, name); err != nil {
				return "", err
			}
		case errors.Is(err, ErrInvalidName):
			if err := reject(c, protocol.ReasonInvalidName, cfg, log, name); err != nil {
				return "", err
			}
		default:
			return "", err
		}
	}
}

// register waits for room for the acknowledgment before asking the registry.
// Until c is registered its session is the only producer on its queue.
func register(c *Connection, reg *Registry, name string, timeout time.Duration) error {
	for {
		if !c.awaitRoom(timeout) {
			return errSendStalled
		}
		if err := reg.Register(name, c); !errors.Is(err, ErrQueueFull) {
			return err
		}
	}
}

// nameFits applies the optional length cap; limit <= 0 disables it.
func nameFits(name string, limit int) bool {
	return limit <= 0 || len(name) <= limit
}

func reject(c *Connection, reason string, cfg SessionConfig, log *slog.Logger, name string) error {
	HandshakeFailuresTotal.WithLabelValues(reason).Inc()
	log.Info("name rejected", "reason", reason, "candidate", name)
	if !c.SendWait(protocol.Encode(protocol.NameRejected(reason)), cfg.WriteTimeout) {
		return errSendStalled
	}
	return nil
}

func handshakeAborted(log *slog.Logger, err error) {
	var netErr net.Error
	switch {
	case errors.As(err, &netErr) && netErr.Timeout():
		HandshakeFailuresTotal.WithLabelValues("timeout").Inc()
		log.Warn("handshake timed out")
	case errors.Is(err, errSendStalled):
		HandshakeFailuresTotal.WithLabelValues("send-stalled").Inc()
		log.Warn("handshake frame could not be delivered")
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		HandshakeFailuresTotal.WithLabelValues("disconnected").Inc()
		log.Info("client left during handshake")
	default:
		HandshakeFailuresTotal.WithLabelValues("error").Inc()
		log.Warn("handshake failed", "error", err)
	}
}

func relayLoop(c *Connection, reader *bufio.Reader, reg *Registry, cfg SessionConfig, log *slog.Logger) {
	for {
		if cfg.IdleTimeout > 0 {
			_ = c.Conn.SetReadDeadline(time.Now().Add(cfg.IdleTimeout))
		}

		line, err := protocol.ReadLine(reader)
		if errors.Is(err, protocol.ErrLineTooLong) {
			log.Warn("discarded oversized line", "limit", cfg.MaxLineBytes)
			continue
		}
		if err != nil {
			var netErr net.Error
			switch {
			case errors.As(err, &netErr) && netErr.Timeout():
				log.Info("idle timeout, closing connection")
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
				log.Info("client disconnected")
			default:
				log.Warn("read failed", "error", err)
			}
			return
		}

		Broadcast(reg, c.Name(), line, log)
	}
}

// Broadcast relays line from sender to every other registered connection and
// returns how many queues accepted it. Full or closed receivers are skipped.
func Broadcast(reg *Registry, sender, line string, log *slog.Logger) int {
	if log == nil {
		log = slog.Default()
	}
	RelayedLinesTotal.Inc()
	frame := protocol.Encode(protocol.ChatLine(sender, line))

	delivered := 0
	for peer := range reg.AllConnectionsExcept(sender) {
		if peer.Send(frame) {
			delivered++
			continue
		}
		RelayDroppedTotal.Inc()
		log.Debug("relay dropped", "to", peer.Name())
	}
	return delivered
}
