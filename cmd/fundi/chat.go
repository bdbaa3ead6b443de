package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/jkaninda/fundi/internal/anthropic"
	"github.com/jkaninda/fundi/internal/config"
)

var (
	chatConfigPath string
	chatSourceFile string
	chatMessage    string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	Long: `Start an interactive chat session with streaming responses.

Bind the conversation to a source file with --file: the history is then
persisted next to the file and reloaded on the next run. Use --message
for a one-shot question that prints the answer and exits.

Examples:
  fundi chat
  fundi chat --file bracket.scad
  fundi chat -m "why does this model render hollow?" --file bracket.scad`,
	RunE: runChat,
}

func init() {
	// Register flags on both root and chat so that
	// `fundi --file path` and `fundi chat --file path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, chatCmd} {
		cmd.Flags().StringVar(&chatConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&chatSourceFile, "file", "", "source file to bind the conversation to")
		cmd.Flags().StringVarP(&chatMessage, "message", "m", "", "one-shot message (print answer and exit)")
	}
}

func runChat(_ *cobra.Command, _ []string) error {
	// Keep the terminal clean: only warnings and errors on stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	cfg, err := config.Load(goutils.Env("FUNDI_CONFIG", chatConfigPath))
	if err != nil {
		return err
	}

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	if chatSourceFile != "" {
		abs, err := filepath.Abs(chatSourceFile)
		if err != nil {
			return fmt.Errorf("resolving source file %s: %w", chatSourceFile, err)
		}
		sc.History.SetSource(abs)
		if n := sc.History.Len(); n > 0 {
			fmt.Fprintf(os.Stderr, "(resumed conversation for %s, %d turns)\n", filepath.Base(abs), n)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if chatMessage != "" {
		return askOnce(ctx, sc, chatMessage)
	}
	return runREPL(ctx, sc)
}

// askOnce sends a single message, streams the answer to stdout, and exits.
func askOnce(ctx context.Context, sc *SharedComponents, message string) error {
	_, err := sc.Session.Ask(ctx, message, printEvent)
	fmt.Println()
	return err
}

// runREPL reads messages from stdin until EOF or an exit command.
func runREPL(ctx context.Context, sc *SharedComponents) error {
	fmt.Fprintln(os.Stderr, "fundi — type a message, /usage for token totals, /clear to reset, /quit to exit")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch line {
		case "/quit", "/exit":
			return nil
		case "/usage":
			t, err := sc.Usage.SessionTotals(ctx, sc.Session.ID())
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			} else {
				fmt.Fprintf(os.Stderr, "exchanges: %d, input tokens: %d, output tokens: %d\n",
					t.Exchanges, t.InputTokens, t.OutputTokens)
			}
			continue
		case "/clear":
			if err := sc.History.Clear(); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			} else {
				fmt.Fprintln(os.Stderr, "(conversation cleared)")
			}
			continue
		}

		if _, err := sc.Session.Ask(ctx, line, printEvent); err != nil {
			fmt.Fprintf(os.Stderr, "\nerror: %v\n", err)
		}
		fmt.Println()

		if ctx.Err() != nil {
			return nil
		}
	}
	return scanner.Err()
}

// printEvent renders one stream event on the terminal: text deltas go to
// stdout as they arrive, tool and retry notices to stderr.
func printEvent(ev anthropic.Event) {
	switch ev.Type {
	case anthropic.EventText:
		fmt.Print(ev.Text)
	case anthropic.EventToolStart:
		fmt.Fprintf(os.Stderr, "\n[tool: %s]\n", ev.ToolName)
	case anthropic.EventRateLimitWait:
		fmt.Fprintf(os.Stderr, "\n[rate limited, retrying in %ds]\n", ev.RetryAfter)
	}
}
