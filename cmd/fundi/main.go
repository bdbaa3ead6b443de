// Fundi — streaming, tool-augmented AI assistant engine for desktop editors.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "fundi",
	Short: "Fundi — streaming AI assistant engine for CAD and code editors.",
	Long: `Fundi is an embeddable conversation engine that streams responses from the
Anthropic Messages API, executes tools the model requests, and keeps a
per-document conversation history on disk. Run it as an interactive chat,
bind it to a source file, or expose it over HTTP for other frontends.`,
	RunE:          runChat, // Default to interactive chat.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(chatCmd, gatewayCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
