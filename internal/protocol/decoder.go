package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// DefaultMaxFrame bounds a single token or line when no limit is given.
const DefaultMaxFrame = 4096

var (
	// ErrProtocolViolation is returned when a peer does not open with Preamble.
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrLineTooLong is returned by ReadLine after the oversized line has been discarded.
	ErrLineTooLong = errors.New("line too long")
	// ErrFrameTooLong is returned by Decoder.Next for frames exceeding the limit.
	ErrFrameTooLong = errors.New("frame too long")
)

// ReadPreamble consumes bytes up to and including PreambleDelimiter, reading
// at most len(Preamble) bytes, and checks them against Preamble.
func ReadPreamble(r io.ByteReader) error {
	buf := make([]byte, 0, len(Preamble))
	for len(buf) < len(Preamble) {
		b, err := r.ReadByte()
		if err != nil {
			return fmt.Errorf("read preamble: %w", err)
		}
		buf = append(buf, b)
		if b == PreambleDelimiter {
			break
		}
	}
	if string(buf) != Preamble {
		return fmt.Errorf("%w: unexpected preamble %q", ErrProtocolViolation, buf)
	}
	return nil
}

// ReadLine reads one line from r and returns it without its trailing '\n'.
// Any other bytes, a '\r' included, are left as sent.
// A line that does not fit in r's buffer is discarded up to the next newline
// and reported as ErrLineTooLong. A final unterminated line is returned
// before io.EOF.
func ReadLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadSlice('\n')
	switch {
	case err == nil:
		return strings.TrimSuffix(string(line), "\n"), nil
	case errors.Is(err, bufio.ErrBufferFull):
		for errors.Is(err, bufio.ErrBufferFull) {
			_, err = r.ReadSlice('\n')
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("read: %w", err)
		}
		return "", ErrLineTooLong
	case errors.Is(err, io.EOF) && len(line) > 0:
		return strings.TrimSuffix(string(line), "\n"), nil
	case errors.Is(err, io.EOF):
		return "", io.EOF
	default:
		return "", fmt.Errorf("read: %w", err)
	}
}

// Decoder reads server frames: bracketed command tokens and relayed lines.
type Decoder struct {
	r *bufio.Reader
}

func NewDecoder(r io.Reader, maxFrame int) *Decoder {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrame
	}
	return &Decoder{r: bufio.NewReaderSize(r, maxFrame)}
}

// Next blocks until one complete frame is available.
func (d *Decoder) Next() (Message, error) {
	head, err := d.r.Peek(1)
	if err != nil {
		return Message{}, err
	}

	if head[0] == '{' {
		token, err := d.r.ReadSlice('}')
		switch {
		case err == nil:
			return decodeCommand(token), nil
		case errors.Is(err, bufio.ErrBufferFull):
			return Message{}, ErrFrameTooLong
		case errors.Is(err, io.EOF) && len(token) > 0:
			return Message{Kind: KindUnknown, Raw: append([]byte(nil), token...)}, nil
		default:
			return Message{}, err
		}
	}

	line, err := ReadLine(d.r)
	if err != nil {
		if errors.Is(err, ErrLineTooLong) {
			return Message{}, ErrFrameTooLong
		}
		return Message{}, err
	}
	return decodeChatLine(line), nil
}
