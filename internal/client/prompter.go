package client

import (
	"bufio"
	"context"
	"fmt"
	"io"
)

//go:generate mockgen -source=prompter.go -destination=../mocks/mock_prompter.go -package=mocks

// Prompter supplies a display name whenever the server asks for one.
type Prompter interface {
	PromptName(ctx context.Context) (string, error)
}

// LinePrompter asks the operator on Out and takes the next line from Lines.
// Lines is shared with chat input so one reader owns the terminal.
type LinePrompter struct {
	Out    io.Writer
	Lines  <-chan string
	Prompt string
}

func (p *LinePrompter) PromptName(ctx context.Context) (string, error) {
	prompt := p.Prompt
	if prompt == "" {
		prompt = "Please input username: "
	}
	if p.Out != nil {
		fmt.Fprint(p.Out, prompt)
	}
	select {
	case line, ok := <-p.Lines:
		if !ok {
			return "", io.EOF
		}
		return line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// ReadLines scans r in the background and delivers each line without its
// terminator. The channel is closed at end of input.
func ReadLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}
