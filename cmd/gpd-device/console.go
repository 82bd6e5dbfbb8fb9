package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/greenpower/gpd-go/pkg/wire"
)

// Console is the interactive command line.
type Console struct {
	rl *readline.Instance
}

// NewConsole creates the console.
func NewConsole() (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "gpd> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Console{rl: rl}, nil
}

// Stderr returns a writer that coordinates with the prompt.
func (c *Console) Stderr() io.Writer {
	return c.rl.Stderr()
}

// Run reads commands until quit, EOF or ctx is done.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc, r *runner) {
	defer c.rl.Close()
	out := c.rl.Stdout()

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
			fmt.Fprintln(out, "Exiting...")
			cancel()
			return
		}

		parts := strings.Fields(strings.TrimSpace(line))
		if len(parts) == 0 {
			continue
		}
		args := parts[1:]

		switch strings.ToLower(parts[0]) {
		case "help", "?":
			c.printHelp()
		case "step", "s":
			c.cmdStep(ctx, r, args)
		case "status":
			c.cmdStatus(r)
		case "send":
			c.cmdSend(ctx, r, args)
		case "sink-send":
			c.cmdSinkSend(r, args)
		case "decommission", "decomm":
			if err := r.Decommission(ctx); err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
				continue
			}
			fmt.Fprintln(out, "Decommissioned")
		case "quit", "exit", "q":
			fmt.Fprintln(out, "Exiting...")
			cancel()
			return
		default:
			fmt.Fprintf(out, "Unknown command: %s (type 'help' for commands)\n", parts[0])
		}
	}
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.rl.Stdout(), `
GPD Commands:
  step [n]                 - Run n steps of the state machine (default 1)
  status                   - Show device status
  send <cmd> [payload]     - Send a command, both in hex (e.g. send 20 or send a0 0102)
  sink-send <cmd> [payload] - Queue a command from the simulated sink
  decommission             - Announce decommissioning and reset to defaults
  quit                     - Exit`)
}

func (c *Console) cmdStep(ctx context.Context, r *runner, args []string) {
	out := c.rl.Stdout()
	n := 1
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v < 1 {
			fmt.Fprintf(out, "Invalid step count: %s\n", args[0])
			return
		}
		n = v
	}
	for i := 0; i < n; i++ {
		if err := r.Step(ctx); err != nil {
			fmt.Fprintf(out, "Step %d: %v\n", i+1, err)
		}
	}
	fmt.Fprintf(out, "State: %s\n", r.Status().State)
}

func (c *Console) cmdStatus(r *runner) {
	s := r.Status()
	out := c.rl.Stdout()
	fmt.Fprintf(out, "Address:        %s\n", s.Address)
	fmt.Fprintf(out, "State:          %s\n", s.State)
	fmt.Fprintf(out, "Channel:        %d\n", s.Channel)
	fmt.Fprintf(out, "Frame counter:  %d\n", s.FrameCounter)
	fmt.Fprintf(out, "Security level: %s\n", s.SecurityLevel)
	fmt.Fprintf(out, "Key type:       %s\n", s.KeyType)
	fmt.Fprintf(out, "Queued frames:  %d\n", s.Queued)
}

func (c *Console) cmdSend(ctx context.Context, r *runner, args []string) {
	out := c.rl.Stdout()
	cmd, payload, err := parseCommand(args)
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	if err := r.Send(ctx, cmd, payload); err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(out, "Sent %s\n", wire.CommandName(cmd))
}

func (c *Console) cmdSinkSend(r *runner, args []string) {
	out := c.rl.Stdout()
	cmd, payload, err := parseCommand(args)
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	if err := r.SinkSend(cmd, payload); err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	fmt.Fprintln(out, "Queued for the next receive window")
}

// parseCommand parses "<cmd> [payload]" with both in hex.
func parseCommand(args []string) (uint8, []byte, error) {
	if len(args) == 0 {
		return 0, nil, fmt.Errorf("usage: <cmd> [payload]")
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(args[0], "0x"), 16, 8)
	if err != nil {
		return 0, nil, fmt.Errorf("invalid command id %q", args[0])
	}
	var payload []byte
	if len(args) > 1 {
		if payload, err = hex.DecodeString(strings.Join(args[1:], "")); err != nil {
			return 0, nil, fmt.Errorf("invalid payload: %w", err)
		}
	}
	return uint8(v), payload, nil
}
