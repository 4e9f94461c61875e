package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matross-gh/platform-engineering-copilot/internal/domain/outcome"
)

var askCmd = &cobra.Command{
	Use:   "ask <message>",
	Short: "Process one request and print the response",
	Long: `ask runs a single message through planning, execution and synthesis
without starting the API server. Use --conversation to continue an
existing conversation id within the same process; state is not persisted.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, closeLog, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		defer closeLog.Close()

		a, err := buildApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.close(context.Background())

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Orchestrator.RequestTimeout)
		defer cancel()

		convID, _ := cmd.Flags().GetString("conversation")
		asJSON, _ := cmd.Flags().GetBool("json")

		out := a.orchestrator.ProcessRequest(ctx, convID, strings.Join(args, " "), nil)
		if err := printOutcome(cmd.OutOrStdout(), out, asJSON); err != nil {
			return err
		}
		if !out.Success {
			return fmt.Errorf("request failed: %s", strings.Join(out.Errors, "; "))
		}
		return nil
	},
}

func init() {
	askCmd.Flags().String("conversation", "", "Conversation id (generated when empty)")
	askCmd.Flags().Bool("json", false, "Print the full outcome as JSON")
}

// printOutcome writes either the final response with any follow-up prompt,
// or the whole outcome as indented JSON.
func printOutcome(w io.Writer, out *outcome.Outcome, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	if _, err := fmt.Fprintln(w, out.FinalResponse); err != nil {
		return err
	}
	if out.RequiresFollowUp && out.FollowUpPrompt != "" {
		if _, err := fmt.Fprintf(w, "\n%s\n", out.FollowUpPrompt); err != nil {
			return err
		}
	}
	for _, q := range out.QuickReplies {
		if _, err := fmt.Fprintf(w, "  - %s\n", q); err != nil {
			return err
		}
	}
	return nil
}
