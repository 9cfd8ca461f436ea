package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/zankora/agw/pkg/protocol"
)

func runCmd() *cobra.Command {
	var chatID, channelID, prompt, requestedBy string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start an agent run and tail its events until completion",
		Run: func(cmd *cobra.Command, args []string) {
			if chatID == "" || channelID == "" || prompt == "" {
				fmt.Fprintln(os.Stderr, "--chat, --channel, and --prompt are required")
				os.Exit(1)
			}
			runAgent(chatID, channelID, prompt, requestedBy, timeout)
		},
	}
	cmd.Flags().StringVar(&chatID, "chat", "", "chat id")
	cmd.Flags().StringVar(&channelID, "channel", "", "channel id")
	cmd.Flags().StringVar(&prompt, "prompt", "", "task prompt")
	cmd.Flags().StringVar(&requestedBy, "requested-by", "cli", "requesting principal")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "give up waiting after this long")
	return cmd
}

func runAgent(chatID, channelID, prompt, requestedBy string, timeout time.Duration) {
	conn, err := dialGateway()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	res, err := call(conn, protocol.MethodAgentRun, map[string]any{
		"chat_id":      chatID,
		"channel_id":   channelID,
		"prompt":       prompt,
		"requested_by": requestedBy,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	if !res.OK {
		printErr(res)
		os.Exit(1)
	}

	var started struct {
		Run struct {
			RunID string `json:"run_id"`
		} `json:"run"`
	}
	if err := json.Unmarshal(res.Payload, &started); err != nil || started.Run.RunID == "" {
		fmt.Fprintf(os.Stderr, "unexpected agent.run payload: %s\n", res.Payload)
		os.Exit(1)
	}
	runID := started.Run.RunID
	fmt.Fprintf(os.Stderr, "run %s started\n", runID)

	// Subscribe the connection to this run; the response replays anything
	// emitted before we got here.
	tail, err := call(conn, protocol.MethodRunsTail, map[string]any{"run_id": runID})
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	var history struct {
		Events []struct {
			Type    string         `json:"type"`
			Payload map[string]any `json:"payload"`
		} `json:"events"`
	}
	json.Unmarshal(tail.Payload, &history)
	for _, ev := range history.Events {
		if done := printRunEvent(ev.Type, ev.Payload); done {
			return
		}
	}

	conn.SetReadDeadline(time.Now().Add(timeout))
	for {
		var f resFrame
		if err := conn.ReadJSON(&f); err != nil {
			fmt.Fprintf(os.Stderr, "stream ended: %v\n", err)
			os.Exit(1)
		}
		if !strings.HasPrefix(f.Type, protocol.EventPrefix) {
			continue
		}
		var payload map[string]any
		json.Unmarshal(f.Payload, &payload)
		if printRunEvent(strings.TrimPrefix(f.Type, protocol.EventPrefix), payload) {
			return
		}
	}
}

// printRunEvent renders one event; returns true when the run is over.
// Exits the process non-zero for unsuccessful terminal states.
func printRunEvent(etype string, payload map[string]any) bool {
	switch etype {
	case "run.progress":
		if node, ok := payload["node"].(string); ok {
			fmt.Fprintf(os.Stderr, "  [%s] %v\n", node, payload["phase"])
		}
	case "run.tool_call":
		fmt.Fprintf(os.Stderr, "  [tool] %v approval_required=%v\n", payload["tool"], payload["approval_required"])
	case "run.output":
		if text, ok := payload["text"].(string); ok {
			fmt.Println(text)
		}
	case "security.blocked":
		fmt.Fprintf(os.Stderr, "  [blocked] %v\n", payload["reason"])
	case "run.completed":
		status, _ := payload["status"].(string)
		fmt.Fprintf(os.Stderr, "run finished: %s — %v\n", status, payload["summary"])
		if status != "completed" {
			os.Exit(1)
		}
		return true
	}
	return false
}

func approveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <run_id>",
		Short: "Grant a pending write-tool approval",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			conn, err := dialGateway()
			if err != nil {
				fmt.Fprintf(os.Stderr, "%v\n", err)
				os.Exit(1)
			}
			defer conn.Close()

			res, err := call(conn, protocol.MethodApprovalGrant, map[string]any{"run_id": args[0]})
			if err != nil {
				fmt.Fprintf(os.Stderr, "%v\n", err)
				os.Exit(1)
			}
			if !res.OK {
				printErr(res)
				os.Exit(1)
			}
			var p struct {
				OK bool `json:"ok"`
			}
			json.Unmarshal(res.Payload, &p)
			if !p.OK {
				fmt.Fprintln(os.Stderr, "no run waiting for approval with that id")
				os.Exit(1)
			}
			fmt.Println("approved")
		},
	}
}

func eventsCmd() *cobra.Command {
	var runID string
	var afterSeq int64

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Replay persisted events",
		Run: func(cmd *cobra.Command, args []string) {
			payload := map[string]any{"after_seq": afterSeq}
			if runID != "" {
				payload["run_id"] = runID
			}
			oneShot(protocol.MethodRunsTail, payload)
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "filter by run id")
	cmd.Flags().Int64Var(&afterSeq, "after-seq", 0, "only events after this sequence number")
	return cmd
}
