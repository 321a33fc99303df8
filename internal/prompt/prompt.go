// Package prompt asks the operator to confirm side-effecting stages on the terminal.
package prompt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// ErrNotInteractive is returned when confirmation is needed but stdin is not a terminal.
var ErrNotInteractive = errors.New("stdin is not a terminal; pass --yes to confirm side effects non-interactively")

type answer struct {
	line string
	err  error
}

// Terminal implements workflow.ConfirmationPrompt with a y/N question.
type Terminal struct {
	out         io.Writer
	reader      *bufio.Reader
	interactive bool

	mu      sync.Mutex
	pending chan answer // Outstanding read left over from a cancelled Ask
}

// NewTerminal prompts on out and reads answers from in. Interactivity is detected
// from in's file descriptor.
func NewTerminal(in *os.File, out io.Writer) *Terminal {
	fd := in.Fd()
	return New(in, out, isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd))
}

// New builds a prompt over arbitrary streams.
func New(in io.Reader, out io.Writer, interactive bool) *Terminal {
	return &Terminal{
		out:         out,
		reader:      bufio.NewReader(in),
		interactive: interactive,
	}
}

// Interactive reports whether the prompt can ask anything.
func (t *Terminal) Interactive() bool { return t.interactive }

// Ask prints description and waits for an answer. Only "y" or "yes" grant.
// Cancelling ctx returns its error; the pending read is reused by the next Ask.
func (t *Terminal) Ask(ctx context.Context, description string) (bool, error) {
	if !t.interactive {
		return false, ErrNotInteractive
	}

	yellow := color.New(color.FgYellow, color.Bold)
	yellow.Fprint(t.out, "? ")
	fmt.Fprintf(t.out, "Proceed to %s? [y/N]: ", description)

	select {
	case <-ctx.Done():
		fmt.Fprintln(t.out)
		return false, ctx.Err()
	case a := <-t.readLine():
		t.mu.Lock()
		t.pending = nil
		t.mu.Unlock()

		switch {
		case a.err == nil, errors.Is(a.err, io.EOF) && a.line != "":
			return parseAnswer(a.line), nil
		case errors.Is(a.err, io.EOF):
			return false, errors.New("no answer: input closed")
		default:
			return false, fmt.Errorf("read answer: %w", a.err)
		}
	}
}

func (t *Terminal) readLine() <-chan answer {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending != nil {
		return t.pending
	}
	ch := make(chan answer, 1)
	t.pending = ch
	go func() {
		line, err := t.reader.ReadString('\n')
		ch <- answer{line: line, err: err}
	}()
	return ch
}

func parseAnswer(line string) bool {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
