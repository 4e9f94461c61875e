package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	cfnats "github.com/matross-gh/platform-engineering-copilot/internal/adapter/nats"
	"github.com/matross-gh/platform-engineering-copilot/internal/domain/event"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Follow audit events published to NATS",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, closeLog, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		defer closeLog.Close()

		if cfg.NATS.URL == "" {
			return errors.New("nats.url is not configured")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		q, err := cfnats.Connect(ctx, cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			return err
		}
		defer func() { _ = q.Close() }()

		subject, _ := cmd.Flags().GetString("subject")
		if subject == "" {
			subject = cfg.NATS.Subject + ".>"
		}

		out := cmd.OutOrStdout()
		cancel, err := q.Subscribe(ctx, subject, func(_ context.Context, subj string, data []byte) error {
			return printEvent(out, subj, data)
		})
		if err != nil {
			return err
		}
		defer cancel()

		<-ctx.Done()
		return nil
	},
}

func init() {
	eventsCmd.Flags().String("subject", "", "Subject filter (default: <nats.subject>.>)")
}

// printEvent writes one audit event as a single line.
func printEvent(w io.Writer, subject string, data []byte) error {
	var ev event.Audit
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("decode %s: %w", subject, err)
	}
	line := fmt.Sprintf("%s  %-24s %s", ev.CreatedAt.Format("15:04:05.000"), ev.From, ev.Message)
	if ev.To != "" {
		line += " -> " + ev.To
	}
	if id := ev.ConversationID(); id != "" {
		line += " [" + id + "]"
	}
	_, err := fmt.Fprintln(w, line)
	return err
}
