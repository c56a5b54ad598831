// Package protocol is the single encode/decode boundary of the mafia wire
// protocol. Server commands are bracketed tokens without a line terminator,
// chat traffic is newline-terminated text.
package protocol

import (
	"strings"
)

const (
	// Preamble is sent once by a client immediately after connecting.
	Preamble = "MAFIA|"

	// PreambleDelimiter terminates the preamble.
	PreambleDelimiter = '|'

	// DefaultPort is shared by the client and the server binaries.
	DefaultPort = 7777

	tokenNameRequest  = "{request-name}"
	tokenNameAccepted = "{request-name-set}"
	tokenNameFailure  = "{request-name-failure:"

	senderSeparator = ":: "
)

// Rejection reasons carried by a NameRejected message.
const (
	ReasonNameTaken   = "name already taken"
	ReasonInvalidName = "invalid-username"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindPreamble
	KindNameRequest
	KindNameAccepted
	KindNameRejected
	KindChatLine
)

func (k Kind) String() string {
	switch k {
	case KindPreamble:
		return "preamble"
	case KindNameRequest:
		return "name-request"
	case KindNameAccepted:
		return "name-accepted"
	case KindNameRejected:
		return "name-rejected"
	case KindChatLine:
		return "chat-line"
	default:
		return "unknown"
	}
}

// Message is one protocol frame. Only the fields relevant to Kind are set.
type Message struct {
	Kind Kind
	// Reason is set for KindNameRejected.
	Reason string
	// Sender is set for relayed chat lines; empty for lines a client submits.
	Sender string
	// Body is the chat line without its terminator.
	Body string
	// Raw holds the undecoded frame for KindUnknown.
	Raw []byte
}

func PreambleMessage() Message { return Message{Kind: KindPreamble} }

func NameRequest() Message { return Message{Kind: KindNameRequest} }

func NameAccepted() Message { return Message{Kind: KindNameAccepted} }

func NameRejected(reason string) Message {
	return Message{Kind: KindNameRejected, Reason: reason}
}

// ChatLine builds a line as submitted by a client (sender empty) or as
// relayed by the server.
func ChatLine(sender, body string) Message {
	return Message{Kind: KindChatLine, Sender: sender, Body: body}
}

// Encode renders m in its wire form.
func Encode(m Message) []byte {
	switch m.Kind {
	case KindPreamble:
		return []byte(Preamble)
	case KindNameRequest:
		return []byte(tokenNameRequest)
	case KindNameAccepted:
		return []byte(tokenNameAccepted)
	case KindNameRejected:
		return []byte(tokenNameFailure + m.Reason + "}")
	case KindChatLine:
		body := strings.TrimSuffix(m.Body, "\n")
		if m.Sender == "" {
			return []byte(body + "\n")
		}
		return []byte(m.Sender + senderSeparator + body + "\n")
	default:
		return append([]byte(nil), m.Raw...)
	}
}

// decodeCommand maps a complete bracketed token to its message.
func decodeCommand(token []byte) Message {
	s := string(token)
	switch {
	case s == tokenNameRequest:
		return NameRequest()
	case s == tokenNameAccepted:
		return NameAccepted()
	case strings.HasPrefix(s, tokenNameFailure) && strings.HasSuffix(s, "}"):
		return NameRejected(s[len(tokenNameFailure) : len(s)-1])
	default:
		return Message{Kind: KindUnknown, Raw: append([]byte(nil), token...)}
	}
}

// decodeChatLine splits a relayed line into sender and body. Lines without a
// sender prefix are kept whole in Body.
func decodeChatLine(line string) Message {
	line = strings.TrimRight(line, "\r\n")
	sender, body, ok := strings.Cut(line, senderSeparator)
	if !ok || ValidateName(sender) != nil {
		return ChatLine("", line)
	}
	return ChatLine(sender, body)
}
