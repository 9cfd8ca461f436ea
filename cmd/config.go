package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zankora/agw/pkg/protocol"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or update the runtime security policy",
	}
	cmd.AddCommand(configGetCmd(), configSetCmd())
	return cmd
}

func configGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Show the active policy and registered tools",
		Run: func(cmd *cobra.Command, args []string) {
			oneShot(protocol.MethodConfigGet, nil)
		},
	}
}

func configSetCmd() *cobra.Command {
	var file string
	var inline string

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Replace policy fields from a JSON document",
		Long:  "Reads a policy JSON object ({allowlist, dm_policy, group_policy, tool_allow}) from --file or --json and applies it atomically.",
		Run: func(cmd *cobra.Command, args []string) {
			var raw []byte
			switch {
			case file != "":
				data, err := os.ReadFile(file)
				if err != nil {
					fmt.Fprintf(os.Stderr, "%v\n", err)
					os.Exit(1)
				}
				raw = data
			case inline != "":
				raw = []byte(inline)
			default:
				fmt.Fprintln(os.Stderr, "--file or --json is required")
				os.Exit(1)
			}

			var policy map[string]any
			if err := json.Unmarshal(raw, &policy); err != nil {
				fmt.Fprintf(os.Stderr, "invalid policy JSON: %v\n", err)
				os.Exit(1)
			}
			oneShot(protocol.MethodConfigSet, map[string]any{"policy": policy})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to a policy JSON file")
	cmd.Flags().StringVar(&inline, "json", "", "policy JSON inline")
	return cmd
}
