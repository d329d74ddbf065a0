package executor

import (
	"bufio"
	"io"
)

// InputCommand is one interactive stdin command recognized by the
// executor's main loop.
type InputCommand int

const (
	InputNone InputCommand = iota
	InputStatus
	InputQuit
)

// InputSource is polled non-blocking by the main loop each iteration.
// A dedicated goroutine (StdinInput) owns the actual blocking read so
// the scheduler thread never stalls on stdin.
type InputSource interface {
	Poll() (InputCommand, bool)
}

// StdinInput reads one key at a time from r on its own goroutine into a
// single-slot channel, the Go analogue of a coroutine-style keyboard
// reader: Poll drains that slot non-blocking.
type StdinInput struct {
	ch chan InputCommand
}

// NewStdinInput starts the background reader goroutine over r. The
// goroutine exits when r returns an error (EOF, closed pipe).
func NewStdinInput(r io.Reader) *StdinInput {
	s := &StdinInput{ch: make(chan InputCommand, 1)}
	go s.readLoop(r)
	return s
}

func (s *StdinInput) readLoop(r io.Reader) {
	br := bufio.NewReader(r)
	for {
		b, err := br.ReadByte()
		if err != nil {
			return
		}
		var cmd InputCommand
		switch b {
		case 's', 'S':
			cmd = InputStatus
		case 'q', 'Q':
			cmd = InputQuit
		default:
			continue
		}
		select {
		case s.ch <- cmd:
		default:
			// slot already holds an unconsumed command; drop this one,
			// mirroring a single-slot mailbox rather than blocking the
			// reader goroutine on a full channel.
		}
	}
}

func (s *StdinInput) Poll() (InputCommand, bool) {
	select {
	case cmd := <-s.ch:
		return cmd, true
	default:
		return InputNone, false
	}
}

// pollInput reads the configured input source, if any; Pool.Run works
// fine with no InputSource configured (non-interactive/batch sessions).
func (p *Pool) pollInput() (InputCommand, bool) {
	if p.cfg.Input == nil {
		return InputNone, false
	}
	return p.cfg.Input.Poll()
}
