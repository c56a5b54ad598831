package chat

import (
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStartOutboundWriter_PreservesOrder(t *testing.T) {
	req := require.New(t)
	server, client := net.Pipe()
	defer client.Close()

	c := NewConnection(server, 8)
	defer c.Close()
	StartOutboundWriter(c, time.Second, slog.Default())

	req.True(c.Send([]byte("{request-name}")))
	req.True(c.Send([]byte("bob:: one\n")))
	req.True(c.Send([]byte("bob:: two\n")))

	want := "{request-name}bob:: one\nbob:: two\n"
	got := make([]byte, len(want))
	_ = client.SetReadDeadline(time.Now().Add(time.Second))
	_, err := io.ReadFull(client, got)
	req.NoError(err)
	req.Equal(want, string(got))
}

func TestStartOutboundWriter_WriteFailureClosesOnlyThatConnection(t *testing.T) {
	req := require.New(t)
	server, client := net.Pipe()

	c := NewConnection(server, 8)
	StartOutboundWriter(c, time.Second, slog.Default())

	// Given the remote end is gone
	req.NoError(client.Close())

	// When a frame is written
	req.True(c.Send([]byte("alice:: hi\n")))

	// Then the connection is closed and refuses further frames
	select {
	case <-c.Done():
	case <-time.After(time.Second):
		req.Fail("connection was not closed after a failed write")
	}
	req.False(c.Send([]byte("alice:: again\n")))
}

func TestConnection_SendWaitBlocksUntilTheWriterDrains(t *testing.T) {
	req := require.New(t)
	server, client := net.Pipe()
	defer client.Close()

	c := NewConnection(server, 1)
	defer c.Close()

	// Given a full queue and nobody draining it
	req.True(c.Send([]byte("{request-name}")))
	req.False(c.Send([]byte("{request-name}")))
	req.False(c.SendWait([]byte("{request-name}"), 50*time.Millisecond))

	// When the writer starts and the peer reads
	StartOutboundWriter(c, time.Second, slog.Default())
	go func() { _, _ = io.Copy(io.Discard, client) }()

	// Then waiting sends go through instead of being dropped
	for i := 0; i < 10; i++ {
		req.True(c.SendWait([]byte("{request-name}"), time.Second))
	}
	req.True(c.awaitRoom(time.Second))
}

func TestConnection_SendWaitGivesUpOnClose(t *testing.T) {
	req := require.New(t)
	server, client := net.Pipe()
	defer client.Close()

	c := NewConnection(server, 1)
	req.True(c.Send([]byte("x")))

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = c.Close()
	}()
	req.False(c.SendWait([]byte("y"), 0))
	req.False(c.awaitRoom(0))
}
