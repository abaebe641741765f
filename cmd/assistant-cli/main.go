package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"campus-assistant/internal/domain"
	"campus-assistant/internal/infra/httpclient"
)

var (
	version = "dev"

	// Global flags
	verbose   bool
	serverURL string
	token     string
	timeout   time.Duration
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "assistant-cli",
	Short:   "Talk to the campus assistant service",
	Version: version,
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Send a message and stream the reply",
	Long: `Send a message to the assistant and print the reply as it streams.

Examples:
  assistant-cli ask "where can I get lunch on campus?"
  assistant-cli ask recommend a club for photographers`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Resubmit the last message",
	Args:  cobra.NoArgs,
	RunE:  runRetry,
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage conversation sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, most recent first",
	Args:  cobra.NoArgs,
	RunE:  listSessions,
}

var sessionsActivateCmd = &cobra.Command{
	Use:   "activate <session-id>",
	Short: "Switch to a session",
	Args:  cobra.ExactArgs(1),
	RunE:  activateSession,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE:  deleteSession,
}

var throttleCmd = &cobra.Command{
	Use:   "throttle",
	Short: "Administer request throttling (requires an administrator token)",
}

var throttleResetCmd = &cobra.Command{
	Use:   "reset <identity>",
	Short: "Reset one identity's request window",
	Args:  cobra.ExactArgs(1),
	RunE:  resetThrottle,
}

var throttleClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Reset every request window",
	Args:  cobra.NoArgs,
	RunE:  clearThrottle,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("ASSISTANT_URL", "http://localhost:9030"), "assistant service URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("ASSISTANT_TOKEN"), "identity token")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "request timeout")

	sessionsCmd.AddCommand(sessionsListCmd, sessionsActivateCmd, sessionsDeleteCmd)
	throttleCmd.AddCommand(throttleResetCmd, throttleClearCmd)
	rootCmd.AddCommand(askCmd, retryCmd, sessionsCmd, throttleCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// commandContext is cancelled on SIGINT/SIGTERM, which abandons a stream.
func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newClient() *apiClient {
	return newAPIClient(serverURL, token, httpclient.NewPooledClient(timeout))
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	text := strings.Join(args, " ")
	newLogger().Debug("sending message", slog.String("server", serverURL), slog.Int("length", len(text)))
	return newClient().stream(ctx, "/v1/assistant/messages", map[string]string{"text": text}, cmd.OutOrStdout())
}

func runRetry(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	return newClient().stream(ctx, "/v1/assistant/messages/retry", nil, cmd.OutOrStdout())
}

func listSessions(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	var out struct {
		Sessions []domain.ConversationSession `json:"sessions"`
	}
	if err := newClient().getJSON(ctx, "GET", "/v1/assistant/sessions", &out); err != nil {
		return err
	}

	if len(out.Sessions) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No sessions.")
		return nil
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUPDATED\tTITLE")
	for _, s := range out.Sessions {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.ID, s.UpdatedAt.Format(time.RFC3339), s.Title)
	}
	return tw.Flush()
}

func activateSession(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	if err := newClient().getJSON(ctx, "POST", "/v1/assistant/sessions/"+args[0]+"/activate", nil); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Switched to session %s\n", args[0])
	return nil
}

func deleteSession(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	if err := newClient().getJSON(ctx, "DELETE", "/v1/assistant/sessions/"+args[0], nil); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", args[0])
	return nil
}

func resetThrottle(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	if err := newClient().getJSON(ctx, "DELETE", "/v1/admin/throttle/"+args[0], nil); err != nil {
		return err
	}
	newLogger().Info("throttle reset", slog.String("identity", args[0]))
	return nil
}

func clearThrottle(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	if err := newClient().getJSON(ctx, "DELETE", "/v1/admin/throttle", nil); err != nil {
		return err
	}
	newLogger().Info("throttle cleared")
	return nil
}
