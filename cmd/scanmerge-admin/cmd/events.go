package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openctemio/scanmerge/internal/app/ingest"
	"github.com/openctemio/scanmerge/internal/infra/redis"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Watch import events",
}

var eventsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print import-completed events as they are published",
	Args:  cobra.NoArgs,
	RunE:  runEventsTail,
}

func init() {
	eventsTailCmd.Flags().StringP("workspace", "w", "", "Only show events of this workspace")
	eventsCmd.AddCommand(eventsTailCmd)
}

func runEventsTail(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	wsName, _ := cmd.Flags().GetString("workspace")

	e, err := loadEnv()
	if err != nil {
		return err
	}
	if !e.cfg.Redis.Enabled {
		return errors.New("redis not configured. Set REDIS_ENABLED=true")
	}
	client, err := redis.New(&e.cfg.Redis, e.log)
	if err != nil {
		return err
	}
	defer client.Close()

	notifier := redis.NewImportNotifier(client, e.cfg.Redis.EventsChannel, e.log)
	events, err := notifier.Subscribe(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "listening on %s, press Ctrl+C to stop\n", notifier.Channel())

	for event := range events {
		if wsName != "" && event.Workspace != wsName {
			continue
		}
		printEvent(event)
	}
	return nil
}

func printEvent(event ingest.ImportEvent) {
	if flagOutput == outputJSON || flagOutput == outputYAML {
		printStructured(event)
		return
	}

	line := fmt.Sprintf("%s  %-12s %-10s %-8s job=%s", shortTime(event.At), event.Workspace, event.Tool, event.Status, event.JobID)
	if r := event.Result; r != nil {
		line += fmt.Sprintf(" hosts=%d services=%d vulns=%d", touched(r.Hosts), touched(r.Services), touched(r.Vulnerabilities))
	}
	if event.Error != "" {
		line += " error=" + event.Error
	}
	fmt.Println(line)
}
