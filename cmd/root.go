package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X github.com/zankora/agw/cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile   string
	serverURL string
	apiKey    string
)

var rootCmd = &cobra.Command{
	Use:   "agw",
	Short: "agw — secure agent orchestration gateway",
	Long:  "agw is a single-authority gateway for chat-driven agent runs: deny-by-default policy, bounded state-machine execution, and a duplex WebSocket control plane.",
	Run: func(cmd *cobra.Command, args []string) {
		runServe()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: agw.json5 or $AGW_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "gateway WebSocket URL (default: from config)")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "client API key (default: $AGW_API_KEY)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(channelsCmd())
	rootCmd.AddCommand(chatsCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(approveCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(configCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("agw %s\n", Version)
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("AGW_CONFIG"); v != "" {
		return v
	}
	return "agw.json5"
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
