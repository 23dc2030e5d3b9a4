package valve_controller

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
)

// Console reads one-letter admin commands from a line stream:
//
//	T DD/MM/YYYY HH:MM   set the clock (a bare T prompts for the time)
//	S                    force a network time sync
//	C                    print the config
type Console struct {
	admin  Admin
	show   func(ctx context.Context) error
	in     io.Reader
	out    io.Writer
	logger zerolog.Logger
}

func NewConsole(e *Engine, in io.Reader, out io.Writer, logger zerolog.Logger) *Console {
	return &Console{admin: e, show: e.ShowConfig, in: in, out: out, logger: logger}
}

// Run processes lines until in is exhausted or ctx is done.
func (c *Console) Run(ctx context.Context) error {
	fmt.Fprintln(c.out, "type 'T' to set the time manually, 'S' to sync it, 'C' to show the config")

	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- sc.Err()
		close(lines)
	}()

	awaitingTime := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return <-errc
			}
			line = strings.TrimSpace(line)
			if awaitingTime {
				awaitingTime = false
				c.setTime(ctx, line)
				continue
			}
			awaitingTime = c.handle(ctx, line)
		}
	}
}

// handle runs one command line. It reports whether the next line is
// expected to carry the time.
func (c *Console) handle(ctx context.Context, line string) bool {
	if line == "" {
		return false
	}
	cmd, arg := strings.ToUpper(line[:1]), strings.TrimSpace(line[1:])
	switch cmd {
	case "T":
		if arg == "" {
			fmt.Fprintf(c.out, "enter the new date and time (%s):\n", ManualTimeLayout)
			return true
		}
		c.setTime(ctx, arg)
	case "S":
		ok, err := c.admin.SyncClock(ctx)
		switch {
		case err != nil:
			fmt.Fprintf(c.out, "sync failed: %v\n", err)
		case ok:
			fmt.Fprintf(c.out, "clock synced: %s\n", c.admin.Snapshot().Clock.Format("02/01/2006 15:04:05"))
		default:
			fmt.Fprintln(c.out, "network time unavailable, clock unchanged")
		}
	case "C":
		if err := c.show(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("show config")
		}
	default:
		fmt.Fprintf(c.out, "unknown command %q\n", line)
	}
	return false
}

func (c *Console) setTime(ctx context.Context, value string) {
	now, err := c.admin.SetClock(ctx, value)
	if err != nil {
		fmt.Fprintf(c.out, "rejected: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "RTC set to %s\n", now.Format("02/01/2006 15:04"))
}
