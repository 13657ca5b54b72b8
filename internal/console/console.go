// Package console is a line-oriented presentation layer for the client:
// notices go to the output, typed lines become sends, and reconnect
// decisions are asked inline.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/omochice/bullscows-client/internal/client"
)

var (
	ErrMissingAddress = errors.New("console: server IP and port are required")
	ErrInvalidPort    = errors.New("console: invalid port number")
	ErrInputClosed    = errors.New("console: input closed")
)

// QuitCommand ends the session from the prompt.
const QuitCommand = "/quit"

// Engine is the part of the client the console drives.
type Engine interface {
	Send(text string) error
	Events() <-chan client.Event
	Done() <-chan struct{}
	Err() error
	InputEnabled() bool
	Close() error
}

type promptRequest struct {
	question string
	reply    chan bool
}

// Console reads user lines from in and writes to out.
type Console struct {
	out     io.Writer
	lines   chan string
	prompts chan promptRequest
}

// New starts reading lines from in.
func New(in io.Reader, out io.Writer) *Console {
	c := &Console{
		out:     out,
		lines:   make(chan string),
		prompts: make(chan promptRequest),
	}
	go c.readInput(in)
	return c
}

func (c *Console) readInput(in io.Reader) {
	defer close(c.lines)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		c.lines <- scanner.Text()
	}
}

// AskAddress prompts for the server IP and port. Run it before Run.
func (c *Console) AskAddress() (string, int, error) {
	host, err := c.ask("Enter the server IP: ")
	if err != nil {
		return "", 0, err
	}
	portText, err := c.ask("Enter the server port: ")
	if err != nil {
		return "", 0, err
	}
	if host == "" || portText == "" {
		return "", 0, ErrMissingAddress
	}

	port, err := strconv.Atoi(portText)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidPort, portText)
	}
	return host, port, nil
}

func (c *Console) ask(question string) (string, error) {
	fmt.Fprint(c.out, question)
	line, ok := <-c.lines
	if !ok {
		return "", ErrInputClosed
	}
	return strings.TrimSpace(line), nil
}

// ShouldReconnect asks the user through the Run loop and waits for the
// answer. It returns false if ctx ends first.
func (c *Console) ShouldReconnect(ctx context.Context, cause error) bool {
	req := promptRequest{
		question: fmt.Sprintf("Connection lost (%v). Reconnect to the server? [y/N] ", cause),
		reply:    make(chan bool, 1),
	}

	select {
	case c.prompts <- req:
	case <-ctx.Done():
		return false
	}

	select {
	case yes := <-req.reply:
		return yes
	case <-ctx.Done():
		return false
	}
}

// Run drives eng until it shuts down, the input ends or ctx is cancelled.
// It returns the engine's shutdown cause.
func (c *Console) Run(ctx context.Context, eng Engine) error {
	var pending *promptRequest
	lines := c.lines

	for {
		select {
		case ev := <-eng.Events():
			c.render(ev)
			if ev.Type == client.EventShutdown {
				return ev.Err
			}

		case <-eng.Done():
			for {
				select {
				case ev := <-eng.Events():
					c.render(ev)
					if ev.Type == client.EventShutdown {
						return ev.Err
					}
				default:
					c.render(client.Event{Type: client.EventShutdown, Err: eng.Err()})
					return eng.Err()
				}
			}

		case req := <-c.prompts:
			fmt.Fprint(c.out, req.question)
			pending = &req

		case line, ok := <-lines:
			if !ok {
				lines = nil
				if pending != nil {
					pending.reply <- false
					pending = nil
				}
				_ = eng.Close()
				continue
			}
			if pending != nil {
				pending.reply <- isYes(line)
				pending = nil
				continue
			}
			c.submit(eng, line)

		case <-ctx.Done():
			_ = eng.Close()
			return ctx.Err()
		}
	}
}

func (c *Console) submit(eng Engine, line string) {
	text := strings.TrimSpace(line)
	switch {
	case text == "":
		return
	case text == QuitCommand:
		_ = eng.Close()
	case !eng.InputEnabled():
		fmt.Fprintln(c.out, "Please wait, input is disabled right now.")
	default:
		if err := eng.Send(text); err != nil {
			fmt.Fprintf(c.out, "Failed to send message: %v\n", err)
		}
	}
}

func (c *Console) render(ev client.Event) {
	switch ev.Type {
	case client.EventNotice:
		fmt.Fprintln(c.out, ev.Text)
	case client.EventOpponent:
		if ev.OpponentConnected {
			fmt.Fprintln(c.out, "Opponent (Connected)")
		} else {
			fmt.Fprintln(c.out, "Opponent (Disconnected)")
		}
	case client.EventInput:
		if ev.InputEnabled {
			fmt.Fprintln(c.out, "[input enabled]")
		} else {
			fmt.Fprintln(c.out, "[input disabled]")
		}
	case client.EventShutdown:
		if ev.Err != nil {
			fmt.Fprintf(c.out, "Disconnected: %v\n", ev.Err)
		} else {
			fmt.Fprintln(c.out, "Disconnected.")
		}
	}
}

func isYes(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
