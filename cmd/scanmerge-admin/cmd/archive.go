package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/openctemio/scanmerge/internal/app/ingest"
	"github.com/openctemio/scanmerge/internal/infra/archive"
	"github.com/openctemio/scanmerge/pkg/domain/command"
	"github.com/openctemio/scanmerge/pkg/inflate"
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Inspect and replay archived raw reports",
}

var archiveListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List archived reports, oldest first",
	Args:    cobra.NoArgs,
	RunE:    runArchiveList,
}

var archiveReplayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Ingest archived reports again",
	Long: `Replay downloads archived reports of a workspace and ingests them again,
oldest first, as new imports. Merging is idempotent, so replaying a report
that was already ingested only adds a command to the tools history.

Use --key to replay one report or --since to skip older ones.`,
	Args: cobra.NoArgs,
	RunE: runArchiveReplay,
}

func init() {
	archiveListCmd.Flags().StringP("workspace", "w", "", "Workspace name, all workspaces when empty")

	archiveReplayCmd.Flags().StringP("workspace", "w", "", "Workspace name (required)")
	archiveReplayCmd.Flags().String("key", "", "Replay only this object key")
	archiveReplayCmd.Flags().Duration("since", 0, "Replay only reports archived within this duration")
	archiveReplayCmd.Flags().Bool("continue-on-error", false, "Keep replaying after a failed report")
	_ = archiveReplayCmd.MarkFlagRequired("workspace")

	archiveCmd.AddCommand(archiveListCmd)
	archiveCmd.AddCommand(archiveReplayCmd)
}

func openArchive(cmd *cobra.Command, e *env) (*archive.S3Archive, error) {
	if e.cfg.Archive.Bucket == "" {
		return nil, errors.New("archive bucket not configured. Set ARCHIVE_BUCKET or archive.bucket")
	}
	return archive.NewS3Archive(cmd.Context(), e.cfg.Archive, e.log)
}

func runArchiveList(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	a, err := openArchive(cmd, e)
	if err != nil {
		return err
	}
	defer a.Close()

	wsName, _ := cmd.Flags().GetString("workspace")
	reports, err := a.List(cmd.Context(), wsName)
	if err != nil {
		return err
	}
	if printStructured(reports) {
		return nil
	}
	if len(reports) == 0 {
		fmt.Println("No archived reports found.")
		return nil
	}

	t := newTable("WORKSPACE", "JOB", "TOOL", "SIZE", "ARCHIVED", "KEY")
	for _, r := range reports {
		tool := r.Tool
		if tool == "" {
			tool = "-"
		}
		t.AddRow(r.Workspace, r.JobID, tool, humanSize(r.Size), shortTime(r.LastModified), r.Key)
	}
	t.Flush()
	return nil
}

func runArchiveReplay(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	wsName, _ := cmd.Flags().GetString("workspace")
	key, _ := cmd.Flags().GetString("key")
	since, _ := cmd.Flags().GetDuration("since")
	keepGoing, _ := cmd.Flags().GetBool("continue-on-error")

	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	a, err := openArchive(cmd, e)
	if err != nil {
		return err
	}
	defer a.Close()

	reports, err := a.List(ctx, wsName)
	if err != nil {
		return err
	}
	reports = filterReports(reports, key, since, time.Now())
	if len(reports) == 0 {
		return errors.New("no archived reports match")
	}

	// Replayed payloads are not archived a second time.
	svc := ingest.NewService(ingest.DefaultConfig(),
		ingest.NewParser(ingest.DefaultRegistry(), inflate.Limits{
			MaxCompressedSize:   e.cfg.Ingest.MaxCompressedSize,
			MaxDecompressedSize: e.cfg.Ingest.MaxDecompressedSize,
			MaxRatio:            e.cfg.Ingest.MaxRatio,
		}),
		ingest.NewMergeEngine(e.store, e.log),
		e.store.Workspaces(), e.log)

	hostname, _ := os.Hostname()
	var failed int
	for _, r := range reports {
		payload, err := a.Get(ctx, r.Key)
		if err == nil {
			var result *ingest.MergeResult
			result, err = svc.ProcessReport(ctx, ingest.Job{
				Workspace: wsName,
				Payload:   payload,
				ToolHint:  r.Tool,
				Identity: ingest.Identity{
					User:         "scanmerge-admin",
					Hostname:     hostname,
					ImportSource: command.ImportSourceReport,
				},
			})
			if err == nil {
				fmt.Printf("replayed %s: command %s, %d hosts, %d services, %d vulnerabilities\n",
					r.Key, result.CommandID, touched(result.Hosts), touched(result.Services), touched(result.Vulnerabilities))
				continue
			}
		}

		failed++
		fmt.Fprintf(os.Stderr, "replay %s: %v\n", r.Key, err)
		if !keepGoing {
			break
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d reports failed", failed, len(reports))
	}
	return nil
}

// filterReports keeps the reports matching key (when set) and archived at or
// after now-since (when since is positive).
func filterReports(reports []archive.ArchivedReport, key string, since time.Duration, now time.Time) []archive.ArchivedReport {
	out := reports[:0:0]
	for _, r := range reports {
		if key != "" && r.Key != key {
			continue
		}
		if since > 0 && r.LastModified.Before(now.Add(-since)) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func touched(c ingest.KindCounts) int {
	return c.Created + c.Updated + c.Unchanged
}
