// Package commands implements the gpd-log CLI commands.
package commands

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/greenpower/gpd-go/pkg/log"
	"github.com/greenpower/gpd-go/pkg/wire"
)

const timeLayout = "2006-01-02T15:04:05.000000Z"

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event log.Event) {
	ts := event.Timestamp.UTC().Format(timeLayout)
	fmt.Fprintf(w, "%s [%s] %-3s %s %s", ts, shortenID(event.SessionID),
		event.Direction.String(), event.Layer.String(), eventType(event))
	if event.Channel != 0 {
		fmt.Fprintf(w, " ch%d", event.Channel)
	}
	fmt.Fprintln(w)
	if event.Device != "" {
		fmt.Fprintf(w, "  Device: %s\n", event.Device)
	}

	switch {
	case event.Frame != nil:
		fmt.Fprintf(w, "  Size: %d bytes\n", event.Frame.Size)
		if len(event.Frame.Data) > 0 {
			fmt.Fprintf(w, "  Data: %s\n", hex.EncodeToString(event.Frame.Data))
		}
	case event.Command != nil:
		formatCommand(w, event.Command)
	case event.StateChange != nil:
		sc := event.StateChange
		if sc.OldState != "" {
			fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
		} else {
			fmt.Fprintf(w, "  -> %s\n", sc.NewState)
		}
		if sc.Reason != "" {
			fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
		}
	case event.Drop != nil:
		fmt.Fprintf(w, "  Reason: %s\n", event.Drop.Reason)
		if event.Drop.AuthFailure {
			fmt.Fprintln(w, "  Authentication failure")
		}
	case event.Error != nil:
		fmt.Fprintf(w, "  Layer: %s\n", event.Error.Layer.String())
		fmt.Fprintf(w, "  Message: %s\n", event.Error.Message)
		if event.Error.Context != "" {
			fmt.Fprintf(w, "  Context: %s\n", event.Error.Context)
		}
	}

	fmt.Fprintln(w)
}

func formatCommand(w io.Writer, c *log.CommandEvent) {
	name := c.Name
	if name == "" {
		name = "command"
	}
	fmt.Fprintf(w, "  %s (0x%02x)", name, c.Command)
	if wire.FrameType(c.FrameType) == wire.FrameMaintenance {
		fmt.Fprint(w, " maintenance")
	}
	fmt.Fprintf(w, " seq=%d", c.Sequence)
	if c.SecurityLevel != 0 {
		fmt.Fprintf(w, " level=%d counter=%d", c.SecurityLevel, c.FrameCounter)
	}
	if c.RxAfterTx {
		fmt.Fprint(w, " rxAfterTx")
	}
	fmt.Fprintln(w)
	if len(c.Payload) > 0 {
		fmt.Fprintf(w, "  Payload: %s\n", hex.EncodeToString(c.Payload))
	}
}

// eventType returns the label of the event's payload.
func eventType(event log.Event) string {
	switch {
	case event.Frame != nil:
		return "Frame"
	case event.Command != nil:
		return "Command"
	case event.StateChange != nil:
		return "State"
	case event.Drop != nil:
		return "Drop"
	case event.Error != nil:
		return "Error"
	default:
		return "Unknown"
	}
}

// shortenID returns the first 8 characters of a session ID.
func shortenID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

// RunView prints every event of path matching filter.
func RunView(path string, filter log.Filter, output io.Writer) error {
	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		formatEvent(output, event)
	}
}
