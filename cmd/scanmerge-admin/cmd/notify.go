package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openctemio/scanmerge/internal/infra/notification"
)

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Check alert channels",
}

var notifyTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Send a test message to every configured alert channel",
	Args:  cobra.NoArgs,
	RunE:  runNotifyTest,
}

func init() {
	notifyCmd.AddCommand(notifyTestCmd)
}

// NotifyResult is the outcome of one channel.
type NotifyResult struct {
	Provider string `json:"provider"`
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
}

func runNotifyTest(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	clients, err := notification.FromConfig(&e.cfg.Notify)
	if err != nil {
		return err
	}
	if len(clients) == 0 {
		return errors.New("no alert channel configured. Set NOTIFY_WEBHOOK_URL or NOTIFY_SLACK_WEBHOOK_URL")
	}

	msg := notification.Message{
		Event:    "notify:test",
		Title:    "scanmerge test notification",
		Body:     "Rule alerts will be delivered to this channel.",
		Severity: "informational",
		Footer:   time.Now().UTC().Format(time.RFC3339),
	}

	results := make([]NotifyResult, 0, len(clients))
	failed := 0
	for _, c := range clients {
		res := NotifyResult{Provider: c.Provider(), OK: true}
		if err := c.Send(cmd.Context(), msg); err != nil {
			res.OK = false
			res.Error = err.Error()
			failed++
		}
		results = append(results, res)
	}

	if !printStructured(results) {
		t := newTable("PROVIDER", "OK", "ERROR")
		for _, r := range results {
			t.AddRow(r.Provider, boolToStr(r.OK), r.Error)
		}
		t.Flush()
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d channels failed", failed, len(clients))
	}
	return nil
}
