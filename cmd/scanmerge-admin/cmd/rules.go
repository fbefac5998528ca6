package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/openctemio/scanmerge/internal/app"
	"github.com/openctemio/scanmerge/internal/app/searcher"
	"github.com/openctemio/scanmerge/internal/infra/jobs"
)

var rulesCmd = &cobra.Command{
	Use:     "rules",
	Aliases: []string{"rule"},
	Short:   "Run and manage automation rules",
}

var rulesRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the stored rules of a workspace, or the rules of a YAML file",
	Long: `Run evaluates rules against a workspace and prints the run report.

Without --file the workspace's stored rules run in order. With --file the
file's rules run instead and are not stored.`,
	Args: cobra.NoArgs,
	RunE: runRulesRun,
}

var rulesListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List the stored rules of a workspace",
	Args:    cobra.NoArgs,
	RunE:    runRulesList,
}

var rulesImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Store the rules of a YAML file, appended in file order",
	Args:  cobra.NoArgs,
	RunE:  runRulesImport,
}

var rulesDeleteCmd = &cobra.Command{
	Use:   "delete RULE_ID",
	Short: "Delete a stored rule",
	Args:  cobra.ExactArgs(1),
	RunE:  runRulesDelete,
}

func init() {
	for _, c := range []*cobra.Command{rulesRunCmd, rulesListCmd, rulesImportCmd, rulesDeleteCmd} {
		c.Flags().StringP("workspace", "w", "", "Workspace name (required)")
		_ = c.MarkFlagRequired("workspace")
	}
	rulesRunCmd.Flags().StringP("file", "f", "", "YAML rules file to run instead of the stored rules")
	rulesImportCmd.Flags().StringP("file", "f", "", "YAML rules file (required)")
	_ = rulesImportCmd.MarkFlagRequired("file")

	rulesCmd.AddCommand(rulesRunCmd)
	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesImportCmd)
	rulesCmd.AddCommand(rulesDeleteCmd)
}

func runRulesRun(cmd *cobra.Command, args []string) error {
	ctx := searcher.WithTrigger(cmd.Context(), searcher.TriggerCLI)
	wsName, _ := cmd.Flags().GetString("workspace")
	file, _ := cmd.Flags().GetString("file")

	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	s := searcher.NewSearcher(e.store, e.log)
	if e.cfg.Alerts.Enabled {
		client, err := jobs.NewClient(jobs.ClientConfig{
			RedisAddr:     e.cfg.Redis.Addr(),
			RedisPassword: e.cfg.Redis.Password,
			RedisDB:       e.cfg.Redis.DB,
			Queue:         e.cfg.Alerts.Queue,
			MaxRetry:      e.cfg.Alerts.MaxRetry,
		}, e.log)
		if err != nil {
			return err
		}
		defer client.Close()
		s.SetAlertSink(client)
	}
	svc := app.NewRuleService(e.store, s, e.log)

	var report *searcher.Report
	if file != "" {
		defs, err := searcher.LoadRulesFile(file)
		if err != nil {
			return err
		}
		report, err = svc.Run(ctx, wsName, defs)
		if err != nil {
			return err
		}
	} else {
		report, err = svc.RunStored(ctx, wsName)
		if err != nil {
			return err
		}
	}

	printReport(report)
	if report.Totals.Errors > 0 {
		return fmt.Errorf("%d rule errors", report.Totals.Errors)
	}
	return nil
}

func printReport(report *searcher.Report) {
	if printStructured(report) {
		return
	}

	t := newTable("RULE", "MATCHED", "MUTATED", "FAILED", "ALERTS", "STATUS")
	for _, r := range report.Rules {
		status := "ok"
		switch {
		case r.Skipped:
			status = "skipped"
		case r.Error != "":
			status = "error"
		}
		t.AddRow(r.Label, strconv.Itoa(r.Matched), strconv.Itoa(r.Mutated), strconv.Itoa(r.Failed), strconv.Itoa(r.Alerts), status)
	}
	t.Flush()

	tot := report.Totals
	fmt.Printf("\n%d rules evaluated in %s: %d matched, %d mutated, %d failed, %d alerts\n",
		tot.RulesEvaluated, report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond), tot.Matched, tot.Mutated, tot.Failed, tot.Alerts)
	for _, re := range report.Errors {
		fmt.Fprintf(os.Stderr, "  %s\n", re.Error())
	}
}

func runRulesList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	wsName, _ := cmd.Flags().GetString("workspace")

	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	rules, err := app.NewRuleService(e.store, searcher.NewSearcher(e.store, e.log), e.log).List(ctx, wsName)
	if err != nil {
		return err
	}

	type ruleOutput struct {
		ID       string   `json:"id"`
		Name     string   `json:"name,omitempty"`
		Model    string   `json:"model"`
		Query    string   `json:"object"`
		Actions  []string `json:"actions"`
		Disabled bool     `json:"disabled"`
	}
	out := make([]ruleOutput, 0, len(rules))
	for _, r := range rules {
		out = append(out, ruleOutput{
			ID:       r.ID().String(),
			Name:     r.Name(),
			Model:    string(r.Model()),
			Query:    r.RawQuery(),
			Actions:  r.Tokens(),
			Disabled: r.Disabled(),
		})
	}
	if printStructured(out) {
		return nil
	}

	t := newTable("ID", "NAME", "MODEL", "OBJECT", "ACTIONS", "DISABLED")
	for _, r := range out {
		t.AddRow(r.ID, r.Name, r.Model, r.Query, strings.Join(r.Actions, " "), boolToStr(r.Disabled))
	}
	t.Flush()
	return nil
}

func runRulesImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	wsName, _ := cmd.Flags().GetString("workspace")
	file, _ := cmd.Flags().GetString("file")

	defs, err := searcher.LoadRulesFile(file)
	if err != nil {
		return err
	}

	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	svc := app.NewRuleService(e.store, searcher.NewSearcher(e.store, e.log), e.log)
	for i, def := range defs {
		r, err := svc.Create(ctx, wsName, def)
		if err != nil {
			return fmt.Errorf("rule #%d: %w", i+1, err)
		}
		fmt.Printf("rule %s stored (%s)\n", r.ID(), r.Label())
	}
	return nil
}

func runRulesDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	wsName, _ := cmd.Flags().GetString("workspace")

	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	svc := app.NewRuleService(e.store, searcher.NewSearcher(e.store, e.log), e.log)
	if err := svc.Delete(ctx, wsName, args[0]); err != nil {
		return err
	}
	fmt.Printf("rule %s deleted\n", args[0])
	return nil
}
