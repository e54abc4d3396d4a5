// Package interactive provides the interactive console for aetherctl.
package interactive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/aetherlab/aether-go/pkg/aether"
	"github.com/aetherlab/aether-go/pkg/connection"
	"github.com/aetherlab/aether-go/pkg/model"
	"github.com/aetherlab/aether-go/pkg/telemetry"
	"github.com/aetherlab/aether-go/pkg/wire"
)

// Console handles the interactive session with one device.
type Console struct {
	client *aether.Client
	rl     *readline.Instance

	// Telemetry tail control
	watchCancel context.CancelFunc
	watching    bool
}

// New creates a console bound to an open client. State changes and
// device errors are printed above the prompt as they arrive.
func New(client *aether.Client) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "aether> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	c := &Console{client: client, rl: rl}

	client.OnStateChange(func(oldState, newState connection.State) {
		fmt.Fprintf(rl.Stdout(), "\n[%s] connection: %s -> %s\n",
			time.Now().Format("15:04:05"), oldState, newState)
		rl.Refresh()
	})
	client.OnDeviceError(func(e *wire.DeviceError) {
		fmt.Fprintf(rl.Stdout(), "\n[%s] device: %s\n",
			time.Now().Format("15:04:05"), e.Error())
		rl.Refresh()
	})

	return c, nil
}

// Stdout returns a writer that coordinates with the readline prompt.
func (c *Console) Stdout() io.Writer {
	return c.rl.Stdout()
}

// Run starts the command loop and blocks until quit or context end.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			c.printHelp()

		case "set", "s":
			c.cmdSet(ctx, args)

		case "element", "el":
			c.cmdElement(ctx, args)

		case "bus", "b":
			c.cmdBus(ctx, args)

		case "watch", "w":
			c.cmdWatch(ctx, args)

		case "unwatch":
			c.cmdUnwatch()

		case "status":
			c.cmdStatus()

		case "quit", "exit", "q":
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return

		default:
			fmt.Fprintf(c.rl.Stdout(), "Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.rl.Stdout(), `
Aether Console Commands:
  Control:
    set <engine> <param> <value>  - Set an engine parameter
    element <element> <value>     - Set one elemental axis [-1, 1]
    bus <earth> <air> <water> <fire> - Set the whole bus atomically

  Telemetry:
    watch [rate]       - Tail telemetry (e.g. watch 500ms)
    unwatch            - Stop the telemetry tail

  General:
    status             - Show connection state
    help               - Show this help
    quit               - Exit

  Engines: granular, drone, pulse, master
  Elements: earth, air, water, fire`)
}

// cmdSet handles the set command.
func (c *Console) cmdSet(ctx context.Context, args []string) {
	if len(args) < 3 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: set <engine> <param> <value>")
		fmt.Fprintln(c.rl.Stdout(), "  Example: set granular density 0.7")
		return
	}

	value, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Invalid value: %v\n", err)
		return
	}

	if err := c.client.SetParam(ctx, model.Engine(args[0]), args[1], value); err != nil {
		c.printCommandError(err)
		return
	}
	fmt.Fprintln(c.rl.Stdout(), "OK")
}

// cmdElement handles the element command.
func (c *Console) cmdElement(ctx context.Context, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: element <earth|air|water|fire> <value>")
		return
	}

	value, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Invalid value: %v\n", err)
		return
	}

	if err := c.client.SetElement(ctx, model.Element(args[0]), value); err != nil {
		c.printCommandError(err)
		return
	}
	fmt.Fprintln(c.rl.Stdout(), "OK")
}

// cmdBus handles the bus command.
func (c *Console) cmdBus(ctx context.Context, args []string) {
	if len(args) != model.ElementCount {
		fmt.Fprintln(c.rl.Stdout(), "Usage: bus <earth> <air> <water> <fire>")
		fmt.Fprintln(c.rl.Stdout(), "  Example: bus 0.5 0.2 -0.1 0")
		return
	}

	values := make(map[model.Element]float64, model.ElementCount)
	for i, el := range model.Elements() {
		v, err := strconv.ParseFloat(args[i], 64)
		if err != nil {
			fmt.Fprintf(c.rl.Stdout(), "Invalid %s value: %v\n", el, err)
			return
		}
		values[el] = v
	}

	if err := c.client.SetElementBus(ctx, values); err != nil {
		c.printCommandError(err)
		return
	}
	fmt.Fprintln(c.rl.Stdout(), "OK")
}

// cmdWatch starts a background telemetry tail.
func (c *Console) cmdWatch(ctx context.Context, args []string) {
	if c.watching {
		fmt.Fprintln(c.rl.Stdout(), "Already watching (use 'unwatch' to stop)")
		return
	}

	var rate time.Duration
	if len(args) > 0 {
		parsed, err := time.ParseDuration(args[0])
		if err != nil {
			fmt.Fprintf(c.rl.Stdout(), "Invalid rate: %v\n", err)
			return
		}
		rate = parsed
	}

	stream, err := c.client.Subscribe(ctx, rate)
	if err != nil {
		c.printCommandError(err)
		return
	}

	watchCtx, cancel := context.WithCancel(ctx)
	c.watchCancel = cancel
	c.watching = true

	go func() {
		defer func() {
			c.watching = false
			_ = c.client.Unsubscribe(context.Background(), stream)
		}()
		for {
			snap, err := stream.Next(watchCtx)
			if err != nil {
				if !errors.Is(err, context.Canceled) && !errors.Is(err, telemetry.ErrStreamClosed) {
					fmt.Fprintf(c.rl.Stdout(), "\nTelemetry ended: %v\n", err)
					c.rl.Refresh()
				}
				return
			}
			c.printSnapshot(snap)
		}
	}()

	fmt.Fprintln(c.rl.Stdout(), "Watching telemetry (use 'unwatch' to stop)")
}

// cmdUnwatch stops the telemetry tail.
func (c *Console) cmdUnwatch() {
	if !c.watching {
		fmt.Fprintln(c.rl.Stdout(), "Not watching")
		return
	}
	if c.watchCancel != nil {
		c.watchCancel()
	}
	fmt.Fprintln(c.rl.Stdout(), "Stopped")
}

// cmdStatus shows the connection state.
func (c *Console) cmdStatus() {
	fmt.Fprintln(c.rl.Stdout(), "\nConnection Status")
	fmt.Fprintln(c.rl.Stdout(), "-------------------------------------------")
	fmt.Fprintf(c.rl.Stdout(), "  State:      %s\n", c.client.State())
	if id := c.client.SessionID(); id != "" {
		fmt.Fprintf(c.rl.Stdout(), "  Session:    %s\n", id)
	}
	if n := c.client.QueuedCommands(); n > 0 {
		fmt.Fprintf(c.rl.Stdout(), "  Queued:     %d command(s)\n", n)
	}
	fmt.Fprintln(c.rl.Stdout())
}

func (c *Console) printSnapshot(snap telemetry.Snapshot) {
	line := fmt.Sprintf("\n[%s] #%d  %.1f°C  %.0f%%RH  cpu %.0f%%",
		snap.Time.Format("15:04:05"),
		snap.Seq,
		snap.Sensors.Temperature,
		snap.Sensors.Humidity,
		snap.Audio.CPU*100)
	if snap.Dropped > 0 {
		line += fmt.Sprintf("  (%d dropped)", snap.Dropped)
	}
	fmt.Fprintln(c.rl.Stdout(), line)
	c.rl.Refresh()
}

func (c *Console) printCommandError(err error) {
	if status, ok := aether.IsRejected(err); ok {
		fmt.Fprintf(c.rl.Stdout(), "Rejected by device: %s\n", status)
		return
	}
	fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
}
