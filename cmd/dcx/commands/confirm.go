package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

var errNotTerminal = errors.New("confirmation needs an interactive terminal")

// TerminalConfirmer asks yes/no questions on a terminal. It refuses to guess
// when stdin is not a terminal, so scripted runs fail instead of hanging.
type TerminalConfirmer struct {
	in  *os.File
	out io.Writer
}

func NewTerminalConfirmer(in *os.File, out io.Writer) *TerminalConfirmer {
	return &TerminalConfirmer{in: in, out: out}
}

func (tc *TerminalConfirmer) Confirm(ctx context.Context, prompt string) (bool, error) {
	if !term.IsTerminal(int(tc.in.Fd())) {
		return false, fmt.Errorf("%w: %s", errNotTerminal, prompt)
	}
	_, _ = fmt.Fprintf(tc.out, "%s [y/N]: ", prompt)

	answer := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(tc.in).ReadString('\n')
		answer <- line
	}()
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case line := <-answer:
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		}
		return false, nil
	}
}

// readSecret reads a line from the terminal without echoing it.
func readSecret(in *os.File, out io.Writer, prompt string) (string, error) {
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("%w: %s", errNotTerminal, prompt)
	}
	_, _ = fmt.Fprintf(out, "%s: ", prompt)
	secret, err := term.ReadPassword(fd)
	_, _ = fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", prompt, err)
	}
	return string(secret), nil
}
