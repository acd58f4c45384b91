package chat

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

const (
	ExitToken = "sair"

	banner      = "Iniciando a conversa com o modelo OpenAI. Digite 'sair' para encerrar."
	userPrompt  = "\nVocê:\n"
	replyHeader = "\nAssistente:\n"
	farewell    = "\nConversa encerrada."

	maxLineBytes = 1024 * 1024
)

type LoopState int

const (
	AwaitingInput LoopState = iota
	Terminated
)

func (s LoopState) String() string {
	if s == Terminated {
		return "terminated"
	}
	return "awaiting_input"
}

// Loop reads user lines from In and writes replies to Out until the exit
// token, end of input, or context cancellation.
type Loop struct {
	In        io.Reader
	Out       io.Writer
	Chat      *Chat
	Session   Session
	MaxTokens int
	// Render formats replies for display. Nil prints them verbatim.
	Render func(string) string

	state LoopState
}

func (l *Loop) State() LoopState { return l.state }

// Run blocks until the loop terminates. Model failures are printed and do
// not stop the loop. Read errors, including a line longer than 1 MiB, and
// write errors are returned.
func (l *Loop) Run(ctx context.Context) error {
	l.state = AwaitingInput
	defer func() { l.state = Terminated }()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// readErr is written before lines is closed and read only after.
	var readErr error
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(l.In)
		sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr = sc.Err()
	}()

	if _, err := fmt.Fprintln(l.Out, banner); err != nil {
		return fmt.Errorf("write banner: %w", err)
	}

	for {
		if _, err := fmt.Fprint(l.Out, userPrompt); err != nil {
			return fmt.Errorf("write prompt: %w", err)
		}

		var line string
		var ok bool
		select {
		case <-ctx.Done():
			return nil
		case line, ok = <-lines:
		}
		if !ok {
			if readErr != nil {
				return fmt.Errorf("read input: %w", readErr)
			}
			return nil
		}

		msg := strings.TrimSpace(line)
		if strings.EqualFold(msg, ExitToken) {
			_, err := fmt.Fprintln(l.Out, farewell)
			return err
		}
		if msg == "" {
			continue
		}

		reply, next, err := l.Chat.Respond(ctx, l.Session, line, l.MaxTokens)
		if err != nil {
			if _, werr := fmt.Fprintf(l.Out, "%sAn error occurred: %v\n", replyHeader, err); werr != nil {
				return fmt.Errorf("write reply: %w", werr)
			}
			continue
		}
		l.Session = next

		if l.Render != nil {
			reply = l.Render(reply)
		}
		if _, err := fmt.Fprintf(l.Out, "%s%s\n", replyHeader, reply); err != nil {
			return fmt.Errorf("write reply: %w", err)
		}
	}
}
