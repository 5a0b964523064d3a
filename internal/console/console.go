// Package console is the terminal front end: single-key controls and a
// plain-text transcript.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/eiannone/keyboard"

	"github.com/MrWong99/rolecall/internal/session"
)

// Action is a console command bound to a key.
type Action int

const (
	ActionNone Action = iota
	ActionStart
	ActionInterrupt
	ActionStop
	ActionQuit
)

func (a Action) String() string {
	switch a {
	case ActionStart:
		return "start"
	case ActionInterrupt:
		return "interrupt"
	case ActionStop:
		return "stop"
	case ActionQuit:
		return "quit"
	default:
		return "none"
	}
}

// KeyAction maps a key press to an action.
func KeyAction(ch rune, key keyboard.Key) Action {
	switch key {
	case keyboard.KeyEsc, keyboard.KeyCtrlC:
		return ActionQuit
	}
	switch ch {
	case 's', 'S':
		return ActionStart
	case 'i', 'I':
		return ActionInterrupt
	case 'x', 'X':
		return ActionStop
	case 'q', 'Q':
		return ActionQuit
	}
	return ActionNone
}

// KeyPress is one key read from the terminal.
type KeyPress struct {
	Rune rune
	Key  keyboard.Key
	Err  error
}

// Controls is the subset of [session.Controller] the console drives.
type Controls interface {
	StartRecording(ctx context.Context) error
	StopRecording(ctx context.Context) error
	InterruptSpeaking(ctx context.Context) error
}

// commandTimeout bounds one control call.
const commandTimeout = 5 * time.Second

// Console renders transcript lines and status changes to out. It implements
// [session.Listener].
type Console struct {
	mu  sync.Mutex
	out io.Writer
}

var _ session.Listener = (*Console)(nil)

// New returns a Console writing to out.
func New(out io.Writer) *Console {
	return &Console{out: out}
}

// OnMessage prints m as "[Sender] text"; warnings and errors are marked.
func (c *Console) OnMessage(m session.Message) {
	var mark string
	switch m.Category {
	case session.CategoryWarning:
		mark = "(!) "
	case session.CategoryError:
		mark = "(x) "
	}
	c.printf("[%s] %s%s\n", m.Sender, mark, m.Text)
}

// OnStatus prints the status line.
func (c *Console) OnStatus(s session.Status) {
	c.printf("-- %s\n", s.Text)
}

// Help prints the key bindings.
func (c *Console) Help() {
	c.printf("Keys: [s] start talking  [i] interrupt  [x] stop talking  [q]/[Esc] quit\n")
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.out, format, args...)
}

// Run opens the terminal in raw mode and dispatches key presses to ctl until
// the user quits or ctx is cancelled.
func (c *Console) Run(ctx context.Context, ctl Controls) error {
	if err := keyboard.Open(); err != nil {
		return fmt.Errorf("console: open keyboard: %w", err)
	}
	defer keyboard.Close()

	keys := make(chan KeyPress)
	go func() {
		for {
			ch, key, err := keyboard.GetKey()
			select {
			case keys <- KeyPress{Rune: ch, Key: key, Err: err}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return c.Drive(ctx, keys, ctl)
}

// Drive dispatches key presses from keys to ctl. It returns nil on quit, on
// ctx cancellation or when keys is closed.
func (c *Console) Drive(ctx context.Context, keys <-chan KeyPress, ctl Controls) error {
	c.Help()
	for {
		select {
		case <-ctx.Done():
			return nil
		case kp, ok := <-keys:
			if !ok {
				return nil
			}
			if kp.Err != nil {
				slog.Warn("console: reading key", "err", kp.Err)
				continue
			}
			action := KeyAction(kp.Rune, kp.Key)
			if action == ActionQuit {
				return nil
			}
			c.dispatch(ctx, action, ctl)
		}
	}
}

func (c *Console) dispatch(ctx context.Context, action Action, ctl Controls) {
	if action == ActionNone {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	var err error
	switch action {
	case ActionStart:
		err = ctl.StartRecording(ctx)
	case ActionInterrupt:
		err = ctl.InterruptSpeaking(ctx)
	case ActionStop:
		err = ctl.StopRecording(ctx)
	}

	switch {
	case err == nil:
	case errors.Is(err, session.ErrNotSpeaking):
		c.printf("-- nothing to interrupt\n")
	case errors.Is(err, session.ErrAlreadyRecording):
		c.printf("-- already recording\n")
	default:
		// Device failures are already reported through OnMessage.
		slog.Debug("console: command failed", "action", action.String(), "err", err)
	}
}
