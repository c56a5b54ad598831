package chat

import (
	"bufio"
	"log/slog"
	"time"
)

// StartOutboundWriter drains c's queue onto the socket. A write failure
// closes c only; its session notices on the next read and unregisters it.
func StartOutboundWriter(c *Connection, writeTimeout time.Duration, logger *slog.Logger) {
	go func() {
		w := bufio.NewWriter(c.Conn)
		for {
			select {
			case frame := <-c.out:
				if err := writeFrame(w, c, frame, writeTimeout); err != nil {
					writeFailed(c, err, logger)
					return
				}
				select {
				case c.sent <- struct{}{}:
				default:
				}
			case <-c.done:
				return
			}
		}
	}()
}

func writeFrame(w *bufio.Writer, c *Connection, frame []byte, timeout time.Duration) error {
	if timeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	if _, err := w.Write(frame); err != nil {
		return err
	}
	return w.Flush()
}

func writeFailed(c *Connection, err error, logger *slog.Logger) {
	select {
	case <-c.done:
		// closed on purpose
	default:
		WriteFailuresTotal.Inc()
		logger.Warn("write failed, dropping connection",
			"conn_id", c.ID, "name", c.Name(), "addr", c.Peer, "error", err)
	}
	_ = c.Close()
}
