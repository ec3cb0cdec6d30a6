package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/opensandbox/codespace/pkg/types"
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Submit collaboration events to a room",
}

func submit(cmd *cobra.Command, eventType, roomID string, data interface{}) error {
	ack, err := newClient().SubmitEvent(context.Background(), eventType, roomID, data)
	if err != nil {
		return fmt.Errorf("failed to submit %s: %w", eventType, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "ok seq=%d\n", ack.Seq)
	return nil
}

var sendJoinCmd = &cobra.Command{
	Use:   "join <room-id> <participant-id>",
	Short: "Join a room",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return submit(cmd, "join_room", args[0], map[string]string{"participantId": args[1]})
	},
}

var sendLeaveCmd = &cobra.Command{
	Use:   "leave <room-id> <participant-id>",
	Short: "Leave a room",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return submit(cmd, "leave_room", args[0], map[string]string{"participantId": args[1]})
	},
}

var sendCursorCmd = &cobra.Command{
	Use:   "cursor <room-id> <participant-id> <file> <line> <column>",
	Short: "Move a participant's cursor",
	Long: `Move a participant's cursor. The participant must have a stream open
in the room (see cs watch).`,
	Args: cobra.ExactArgs(5),
	RunE: func(cmd *cobra.Command, args []string) error {
		line, err := strconv.Atoi(args[3])
		if err != nil {
			return fmt.Errorf("invalid line %q", args[3])
		}
		column, err := strconv.Atoi(args[4])
		if err != nil {
			return fmt.Errorf("invalid column %q", args[4])
		}
		return submit(cmd, "cursor_update", args[0], map[string]interface{}{
			"participantId": args[1],
			"file":          args[2],
			"line":          line,
			"column":        column,
		})
	},
}

var sendCodeCmd = &cobra.Command{
	Use:   "code <room-id> <participant-id> <file> <patch>",
	Short: "Broadcast a content patch",
	Long:  `Broadcast a content patch. Use - to read the patch from stdin.`,
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		patch := args[3]
		if patch == "-" {
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("failed to read from stdin: %w", err)
			}
			patch = string(data)
		}
		return submit(cmd, "code_update", args[0], map[string]interface{}{
			"participantId": args[1],
			"file":          args[2],
			"patch":         patch,
		})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch <room-id>",
	Short: "Join a room and print its live events",
	Long: `Open a stream on a room, joining it as a participant, and print every
event until interrupted. Output is human-readable on a terminal and JSON lines
otherwise.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		participant, _ := cmd.Flags().GetString("participant")
		showPings, _ := cmd.Flags().GetBool("pings")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		out := cmd.OutOrStdout()
		pretty := term.IsTerminal(int(os.Stdout.Fd()))
		enc := json.NewEncoder(out)

		return newClient().Stream(ctx, args[0], participant, func(f types.StreamFrame) error {
			if f.Type == "ping" && !showPings {
				return nil
			}
			if !pretty {
				return enc.Encode(f)
			}
			fmt.Fprintln(out, describeFrame(f))
			return nil
		})
	},
}

func describeFrame(f types.StreamFrame) string {
	ts := f.Timestamp
	if t, err := time.Parse(time.RFC3339Nano, f.Timestamp); err == nil {
		ts = t.Local().Format("15:04:05.000")
	}
	switch f.Type {
	case "participant_joined":
		return fmt.Sprintf("%s #%d %s joined", ts, f.Seq, f.ParticipantID)
	case "participant_left":
		return fmt.Sprintf("%s #%d %s left", ts, f.Seq, f.ParticipantID)
	case "cursor_moved":
		line, col := 0, 0
		if f.Line != nil {
			line = *f.Line
		}
		if f.Column != nil {
			col = *f.Column
		}
		return fmt.Sprintf("%s #%d %s cursor %s:%d:%d", ts, f.Seq, f.ParticipantID, f.File, line, col)
	case "content_changed":
		return fmt.Sprintf("%s #%d %s edited %s (%d bytes)", ts, f.Seq, f.ParticipantID, f.File, len(f.Patch))
	default:
		return fmt.Sprintf("%s %s", ts, f.Type)
	}
}

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List live rooms",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rooms, err := newClient().Rooms(context.Background())
		if err != nil {
			return fmt.Errorf("failed to list rooms: %w", err)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ROOM\tPARTICIPANTS\tSTREAMS\tSEQ")
		for _, r := range rooms {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", r.RoomID, len(r.Participants), r.Subscribers, r.LastEventSeq)
		}
		return w.Flush()
	},
}

func init() {
	sendCmd.AddCommand(sendJoinCmd, sendLeaveCmd, sendCursorCmd, sendCodeCmd)
	rootCmd.AddCommand(sendCmd, watchCmd, roomsCmd)

	watchCmd.Flags().String("participant", "", "Participant ID (default: server-generated)")
	watchCmd.Flags().Bool("pings", false, "Print keep-alive pings")
}
