package searcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/scanmerge/pkg/domain/rule"
	"github.com/openctemio/scanmerge/pkg/domain/shared"
	"github.com/openctemio/scanmerge/pkg/domain/vulnerability"
	"github.com/openctemio/scanmerge/pkg/logger"
)

func TestNewScheduler_Spec(t *testing.T) {
	f := newFixture(t)
	s := newSearcher(f.st)

	for _, spec := range []string{"", "*/15 * * * *", "@daily", "@every 30m"} {
		_, err := NewScheduler(s, f.st, SchedulerConfig{Spec: spec}, logger.NewNop())
		assert.NoError(t, err, spec)
	}

	_, err := NewScheduler(s, f.st, SchedulerConfig{Spec: "every tuesday"}, logger.NewNop())
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestScheduler_RunWorkspace(t *testing.T) {
	f := newFixture(t)
	low := f.vuln("V1", vulnerability.SeverityLow)
	high := f.vuln("V2", vulnerability.SeverityHigh)

	stored := f.rule(rule.ModelVulnerability, "severity=low", "--UPDATE:severity=medium")
	require.NoError(t, f.st.Rules().Create(f.ctx, stored))

	// The file rule runs after the stored one and sees its result.
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rules:
  - id: medium-to-critical
    model: Vulnerability
    object: severity=medium
    actions: ["--UPDATE:severity=critical"]
`), 0o600))

	sched, err := NewScheduler(newSearcher(f.st), f.st, SchedulerConfig{RulesFile: path}, logger.NewNop())
	require.NoError(t, err)

	report, err := sched.RunWorkspace(WithTrigger(f.ctx, TriggerSchedule), f.ws)
	require.NoError(t, err)
	require.Len(t, report.Rules, 2)
	assert.Equal(t, stored.ID().String(), report.Rules[0].RuleID)
	assert.Equal(t, "medium-to-critical", report.Rules[1].Label)
	assert.Equal(t, TriggerSchedule, report.Trigger)

	assert.Equal(t, vulnerability.SeverityCritical, f.reload(low.ID()).Severity())
	assert.Equal(t, vulnerability.SeverityHigh, f.reload(high.ID()).Severity())
}

func TestScheduler_RunWorkspaceBadRulesFile(t *testing.T) {
	f := newFixture(t)
	sched, err := NewScheduler(newSearcher(f.st), f.st, SchedulerConfig{RulesFile: filepath.Join(t.TempDir(), "nope.yaml")}, logger.NewNop())
	require.NoError(t, err)

	_, err = sched.RunWorkspace(f.ctx, f.ws)
	assert.Error(t, err)
}

func TestScheduler_RunWorkspaceSkipsBadFileRules(t *testing.T) {
	f := newFixture(t)
	v := f.vuln("V1", vulnerability.SeverityLow)
	require.NoError(t, f.st.Rules().Create(f.ctx, f.rule(rule.ModelVulnerability, "severity=low", "--UPDATE:severity=medium")))

	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rules:
  - id: hosts-off
    model: Host
    object: ip=10.0.0.1
    actions: ["--FROB:x"]
    disabled: true
  - id: broken
    model: Vulnerability
    object: severity=medium
    actions: ["--FROB:x"]
`), 0o600))

	sched, err := NewScheduler(newSearcher(f.st), f.st, SchedulerConfig{RulesFile: path}, logger.NewNop())
	require.NoError(t, err)

	report, err := sched.RunWorkspace(f.ctx, f.ws)
	require.NoError(t, err)
	require.Len(t, report.Rules, 2)
	assert.False(t, report.Rules[0].Skipped)
	assert.Equal(t, "broken", report.Rules[1].Label)
	assert.True(t, report.Rules[1].Skipped)
	require.Len(t, report.Errors, 1)
	assert.True(t, IsRuleError(report.Errors[0], RuleErrInvalidRule))

	assert.Equal(t, vulnerability.SeverityMedium, f.reload(v.ID()).Severity())
}

func TestScheduler_RunAllSkipsInactiveWorkspaces(t *testing.T) {
	f := newFixture(t)
	v := f.vuln("V1", vulnerability.SeverityLow)
	require.NoError(t, f.st.Rules().Create(f.ctx, f.rule(rule.ModelVulnerability, "severity=low", "--DELETE:")))

	f.ws.Deactivate()
	require.NoError(t, f.st.Workspaces().Update(f.ctx, f.ws))

	sched, err := NewScheduler(newSearcher(f.st), f.st, SchedulerConfig{}, logger.NewNop())
	require.NoError(t, err)
	sched.runAll(context.Background())
	f.reload(v.ID())

	f.ws.Activate()
	require.NoError(t, f.st.Workspaces().Update(f.ctx, f.ws))
	sched.runAll(context.Background())

	_, err = f.st.Vulnerabilities().GetByID(f.ctx, f.ws.ID(), v.ID())
	assert.ErrorIs(t, err, vulnerability.ErrNotFound)
}

func TestScheduler_StartStop(t *testing.T) {
	f := newFixture(t)

	disabled, err := NewScheduler(newSearcher(f.st), f.st, SchedulerConfig{}, logger.NewNop())
	require.NoError(t, err)
	require.NoError(t, disabled.Start(context.Background()))
	disabled.Stop()

	enabled, err := NewScheduler(newSearcher(f.st), f.st, SchedulerConfig{Enabled: true, Spec: "@every 1h"}, logger.NewNop())
	require.NoError(t, err)
	require.NoError(t, enabled.Start(context.Background()))
	require.NoError(t, enabled.Start(context.Background()), "second start is a no-op")
	enabled.Stop()
	enabled.Stop()
}
