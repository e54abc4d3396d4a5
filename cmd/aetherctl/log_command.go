package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aetherlab/aether-go/pkg/log"
)

func newLogCommand(cctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Inspect protocol log files",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newLogViewCommand())
	cmd.AddCommand(newLogStatsCommand())
	return cmd
}

func newLogViewCommand() *cobra.Command {
	var layerFlag, directionFlag, sessionFlag string

	cmd := &cobra.Command{
		Use:   "view <file>",
		Short: "View a protocol log in human-readable form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := log.Filter{SessionID: sessionFlag}

			if layerFlag != "" {
				layer, err := parseLayer(layerFlag)
				if err != nil {
					return err
				}
				filter.Layer = &layer
			}
			if directionFlag != "" {
				dir, err := parseDirection(directionFlag)
				if err != nil {
					return err
				}
				filter.Direction = &dir
			}

			reader, err := log.NewFilteredReader(args[0], filter)
			if err != nil {
				return fmt.Errorf("failed to open log file: %w", err)
			}
			defer reader.Close()

			out := cmd.OutOrStdout()
			for {
				event, err := reader.Next()
				if err == io.EOF {
					return nil
				}
				if err != nil {
					return fmt.Errorf("failed to read event: %w", err)
				}
				formatEvent(out, event)
			}
		},
	}

	cmd.Flags().StringVar(&layerFlag, "layer", "", "Filter by layer: transport, wire, session")
	cmd.Flags().StringVar(&directionFlag, "direction", "", "Filter by direction: in, out")
	cmd.Flags().StringVar(&sessionFlag, "session", "", "Filter by session ID")
	return cmd
}

func newLogStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <file>",
		Short: "Summarize a protocol log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reader, err := log.NewReader(args[0])
			if err != nil {
				return fmt.Errorf("failed to open log file: %w", err)
			}
			defer reader.Close()

			var total, errCount int
			sessions := make(map[string]int)
			kinds := make(map[string]int)

			for {
				event, err := reader.Next()
				if err == io.EOF {
					break
				}
				if err != nil {
					return fmt.Errorf("failed to read event: %w", err)
				}

				total++
				if event.SessionID != "" {
					sessions[event.SessionID]++
				}
				if event.Category == log.CategoryError {
					errCount++
				}
				if event.Message != nil {
					kinds[event.Message.Kind.String()]++
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Events:   %d\n", total)
			fmt.Fprintf(out, "Sessions: %d\n", len(sessions))
			fmt.Fprintf(out, "Errors:   %d\n", errCount)

			if len(kinds) > 0 {
				names := make([]string, 0, len(kinds))
				for k := range kinds {
					names = append(names, k)
				}
				sort.Strings(names)
				fmt.Fprintln(out, "Messages by kind:")
				for _, k := range names {
					fmt.Fprintf(out, "  %-12s %d\n", k, kinds[k])
				}
			}
			return nil
		},
	}
}

// formatEvent writes one event in human-readable form.
func formatEvent(w io.Writer, event log.Event) {
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")
	session := event.SessionID
	if len(session) > 8 {
		session = session[:8]
	}

	var label string
	switch {
	case event.Frame != nil:
		label = "Frame"
	case event.Message != nil:
		label = event.Message.Kind.String()
	case event.StateChange != nil:
		label = "State"
	case event.Error != nil:
		label = "Error"
	default:
		label = "Unknown"
	}

	fmt.Fprintf(w, "%s [%s] %-3s %s %s\n",
		ts, session, event.Direction, event.Layer, label)

	switch {
	case event.Frame != nil:
		fmt.Fprintf(w, "  Size: %d bytes\n", event.Frame.Size)
		if len(event.Frame.Data) > 0 {
			fmt.Fprintf(w, "  Data: %s", hex.EncodeToString(event.Frame.Data))
			if event.Frame.Truncated {
				fmt.Fprint(w, " (truncated)")
			}
			fmt.Fprintln(w)
		}

	case event.Message != nil:
		msg := event.Message
		if msg.CorrelationID != 0 {
			fmt.Fprintf(w, "  CorrelationID: %d\n", msg.CorrelationID)
		}
		if msg.Engine != "" {
			fmt.Fprintf(w, "  Target: %s.%s\n", msg.Engine, msg.Param)
		}
		if msg.Status != nil {
			fmt.Fprintf(w, "  Status: %s\n", msg.Status)
		}
		if msg.Seq != 0 {
			fmt.Fprintf(w, "  Seq: %d\n", msg.Seq)
		}

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

	case event.Error != nil:
		fmt.Fprintf(w, "  Message: %s\n", event.Error.Message)
		if event.Error.Context != "" {
			fmt.Fprintf(w, "  Context: %s\n", event.Error.Context)
		}
	}

	fmt.Fprintln(w)
}

func parseLayer(s string) (log.Layer, error) {
	switch strings.ToLower(s) {
	case "transport":
		return log.LayerTransport, nil
	case "wire":
		return log.LayerWire, nil
	case "session":
		return log.LayerSession, nil
	default:
		return 0, fmt.Errorf("invalid layer: %s (must be transport, wire, or session)", s)
	}
}

func parseDirection(s string) (log.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return log.DirectionIn, nil
	case "out":
		return log.DirectionOut, nil
	default:
		return 0, fmt.Errorf("invalid direction: %s (must be in or out)", s)
	}
}
