// Package console implements the line oriented operator console.
//
// Every line is parsed as a cobra command. Parameter setters write to the
// config store directly; commands that touch dispatcher state are queued as
// event.Command and wait for the dispatcher's reply.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/srg/amtrelay/internal/event"
	"github.com/srg/amtrelay/internal/groutine"
	"github.com/srg/amtrelay/internal/queue"
	"github.com/srg/amtrelay/pkg/config"
	"golang.org/x/term"
)

// DefaultReplyTimeout bounds how long a command waits for the dispatcher.
const DefaultReplyTimeout = 5 * time.Second

// ErrNoReply is returned when the dispatcher does not answer in time.
var ErrNoReply = errors.New("dispatcher did not reply")

// Options configures a Console.
type Options struct {
	Store        *config.Store
	Queue        *queue.Queue[event.Event]
	Out          io.Writer
	ReplyTimeout time.Duration
	// Colors forces colored output on or off. Nil detects a terminal on Out.
	Colors *bool
	Logger *logrus.Logger
}

// Console executes operator command lines.
type Console struct {
	store   *config.Store
	queue   *queue.Queue[event.Event]
	out     io.Writer
	timeout time.Duration
	logger  *logrus.Logger

	key  *color.Color
	ok   *color.Color
	fail *color.Color
}

// New creates a Console.
func New(opts Options) *Console {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	timeout := opts.ReplyTimeout
	if timeout <= 0 {
		timeout = DefaultReplyTimeout
	}

	colors := isTerminal(out)
	if opts.Colors != nil {
		colors = *opts.Colors
	}

	c := &Console{
		store:   opts.Store,
		queue:   opts.Queue,
		out:     out,
		timeout: timeout,
		logger:  logger,
		key:     color.New(color.FgCyan),
		ok:      color.New(color.FgGreen),
		fail:    color.New(color.FgRed, color.Bold),
	}
	for _, col := range []*color.Color{c.key, c.ok, c.fail} {
		if colors {
			col.EnableColor()
		} else {
			col.DisableColor()
		}
	}
	return c
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Serve reads command lines from r until EOF or ctx ends. Command errors are
// printed and do not stop the console.
func (c *Console) Serve(ctx context.Context, r io.Reader) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	groutine.Go(ctx, "console-reader", func(ctx context.Context) {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	})

	c.prompt()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if err := c.Execute(ctx, line); err != nil {
				c.fail.Fprintf(c.out, "ERROR: %s\n", err)
			}
			c.prompt()
		}
	}
}

func (c *Console) prompt() {
	fmt.Fprint(c.out, "amt> ")
}

// Execute runs one command line. Blank lines are ignored.
func (c *Console) Execute(ctx context.Context, line string) error {
	args := strings.Fields(line)
	if len(args) == 0 {
		return nil
	}

	root := c.newRoot(ctx)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// send queues a dispatcher command and waits for its reply.
func (c *Console) send(ctx context.Context, kind event.CommandKind) (any, error) {
	if c.queue == nil {
		return nil, fmt.Errorf("%s: no dispatcher attached", kind)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reply := make(chan event.Reply, 1)
	if err := c.queue.Send(ctx, event.Command{Kind: kind, Reply: reply}); err != nil {
		return nil, fmt.Errorf("%s: %w", kind, err)
	}

	c.logger.WithField("command", kind).Debug("Command queued")

	select {
	case r := <-reply:
		return r.Value, r.Err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s: %w", kind, ErrNoReply)
		}
		return nil, ctx.Err()
	}
}
