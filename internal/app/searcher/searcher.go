// Package searcher runs automation rules over a workspace's vulnerabilities.
package searcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openctemio/scanmerge/internal/metrics"
	"github.com/openctemio/scanmerge/pkg/domain/command"
	"github.com/openctemio/scanmerge/pkg/domain/note"
	"github.com/openctemio/scanmerge/pkg/domain/rule"
	"github.com/openctemio/scanmerge/pkg/domain/shared"
	"github.com/openctemio/scanmerge/pkg/domain/store"
	"github.com/openctemio/scanmerge/pkg/domain/vulnerability"
	"github.com/openctemio/scanmerge/pkg/domain/workspace"
	"github.com/openctemio/scanmerge/pkg/logger"
)

// Run triggers, used as the searcher_runs_total label.
const (
	TriggerAPI      = "api"
	TriggerSchedule = "schedule"
	TriggerCLI      = "cli"
)

type triggerKey struct{}

// WithTrigger tags the context with what started a rule run.
func WithTrigger(ctx context.Context, trigger string) context.Context {
	return context.WithValue(ctx, triggerKey{}, trigger)
}

func triggerFrom(ctx context.Context) string {
	if t, ok := ctx.Value(triggerKey{}).(string); ok && t != "" {
		return t
	}
	return TriggerAPI
}

// Alert is raised by an ALERT action on a matched vulnerability.
type Alert struct {
	Workspace       string    `json:"workspace"`
	RuleID          string    `json:"rule_id"`
	Rule            string    `json:"rule"`
	VulnerabilityID shared.ID `json:"vulnerability_id"`
	Name            string    `json:"name"`
	Severity        string    `json:"severity"`
	Message         string    `json:"message"`
	RaisedAt        time.Time `json:"raised_at"`
}

// AlertSink delivers alerts outside the process. Delivery is best effort.
type AlertSink interface {
	SendAlert(ctx context.Context, alert Alert) error
}

// RuleResult is the outcome of one evaluated rule.
type RuleResult struct {
	RuleID  string `json:"rule_id"`
	Label   string `json:"label"`
	Matched int    `json:"matched"`
	Mutated int    `json:"mutated"`
	Failed  int    `json:"failed"`
	Alerts  int    `json:"alerts"`
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Totals aggregate a run.
type Totals struct {
	RulesEvaluated int `json:"rules_evaluated"`
	Matched        int `json:"matched"`
	Mutated        int `json:"mutated"`
	Failed         int `json:"failed"`
	Alerts         int `json:"alerts"`
	Errors         int `json:"errors"`
}

// Report is the structured outcome of Process.
type Report struct {
	Workspace  string       `json:"workspace"`
	Trigger    string       `json:"trigger"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Rules      []RuleResult `json:"rules"`
	Totals     Totals       `json:"totals"`
	Alerts     []Alert      `json:"alerts"`
	Errors     []*RuleError `json:"errors"`
}

func (r *Report) addError(err *RuleError) {
	r.Errors = append(r.Errors, err)
	r.Totals.Errors++
	metrics.SearcherErrors.WithLabelValues(string(err.Kind)).Inc()
}

// Searcher evaluates rules against the entity store.
type Searcher struct {
	store    store.Store
	compiler *compiler
	sink     AlertSink
	logger   *logger.Logger
}

// NewSearcher creates a Searcher.
func NewSearcher(st store.Store, log *logger.Logger) *Searcher {
	return &Searcher{
		store:    st,
		compiler: newCompiler(defaultCacheSize, defaultCacheTTL),
		logger:   log.With("service", "searcher"),
	}
}

// SetAlertSink sets where ALERT actions are delivered after commit.
func (s *Searcher) SetAlertSink(sink AlertSink) {
	s.sink = sink
}

// Process evaluates rules in order against the workspace. Disabled rules are
// skipped and not counted. Each matched vulnerability is mutated in its own
// transaction so one failing entity never affects the others.
func (s *Searcher) Process(ctx context.Context, rules []*rule.Rule, ws *workspace.Workspace) *Report {
	return s.ProcessEntries(ctx, Entries(rules), ws)
}

// ProcessEntries is Process over run entries. An entry whose definition did
// not parse is reported as a skipped rule in its place.
func (s *Searcher) ProcessEntries(ctx context.Context, entries []Entry, ws *workspace.Workspace) *Report {
	trigger := triggerFrom(ctx)
	report := &Report{
		Workspace: ws.Name(),
		Trigger:   trigger,
		StartedAt: time.Now().UTC(),
		Rules:     []RuleResult{},
		Alerts:    []Alert{},
		Errors:    []*RuleError{},
	}
	metrics.SearcherRuns.WithLabelValues(trigger).Inc()

	for _, e := range entries {
		if e.Err != nil {
			report.Rules = append(report.Rules, RuleResult{Label: e.Label, Skipped: true, Error: e.Err.Error()})
			report.addError(e.Err)
			s.logger.Warn("rule skipped", "workspace", ws.Name(), "rule", e.Label, "kind", e.Err.Kind, "error", e.Err.Err)
			continue
		}
		r := e.Rule
		if r.Disabled() {
			continue
		}
		if err := ctx.Err(); err != nil {
			report.addError(&RuleError{Kind: RuleErrQueryFailed, Rule: r.Label(), Err: err})
			break
		}
		report.Rules = append(report.Rules, s.runRule(ctx, r, ws, report))
	}

	for _, res := range report.Rules {
		report.Totals.Matched += res.Matched
		report.Totals.Mutated += res.Mutated
		report.Totals.Failed += res.Failed
		report.Totals.Alerts += res.Alerts
	}
	report.Totals.RulesEvaluated = len(report.Rules)
	report.FinishedAt = time.Now().UTC()
	metrics.SearcherRunDuration.Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())

	s.logger.Info("rule run finished",
		"workspace", ws.Name(),
		"trigger", trigger,
		"rules", report.Totals.RulesEvaluated,
		"matched", report.Totals.Matched,
		"mutated", report.Totals.Mutated,
		"failed", report.Totals.Failed,
		"errors", report.Totals.Errors,
	)
	return report
}

func (s *Searcher) runRule(ctx context.Context, r *rule.Rule, ws *workspace.Workspace, report *Report) RuleResult {
	res := RuleResult{RuleID: r.ID().String(), Label: r.Label()}

	cr, rerr := s.compiler.compile(r)
	if rerr != nil {
		res.Skipped = true
		res.Error = rerr.Error()
		report.addError(rerr)
		s.logger.Warn("rule skipped", "workspace", ws.Name(), "rule", r.Label(), "kind", rerr.Kind, "error", rerr.Err)
		return res
	}

	matches, err := s.store.Vulnerabilities().Find(ctx, ws.ID(), cr.conds)
	if err != nil {
		rerr := &RuleError{Kind: RuleErrQueryFailed, Rule: r.Label(), Err: err}
		res.Skipped = true
		res.Error = rerr.Error()
		report.addError(rerr)
		s.logger.Error("rule query failed", "workspace", ws.Name(), "rule", r.Label(), "error", err)
		return res
	}
	res.Matched = len(matches)

	for _, v := range matches {
		out, err := s.apply(ctx, ws, cr, v.ID())
		if err != nil {
			id := v.ID()
			res.Failed++
			report.addError(&RuleError{Kind: RuleErrActionFailed, Rule: r.Label(), Entity: &id, Err: err})
			s.logger.Warn("rule action failed", "workspace", ws.Name(), "rule", r.Label(), "vulnerability_id", id.String(), "error", err)
			continue
		}
		if out.mutated {
			res.Mutated++
		}
		for cmd, n := range out.applied {
			metrics.SearcherMutations.WithLabelValues(string(cmd)).Add(float64(n))
		}
		for _, a := range out.alerts {
			res.Alerts++
			report.Alerts = append(report.Alerts, a)
			s.dispatch(ctx, a)
		}
	}
	return res
}

type outcome struct {
	mutated bool
	applied map[rule.Command]int
	alerts  []Alert
}

// apply runs every action of the rule on one vulnerability in one transaction.
// A DELETE ends the action list for that entity.
func (s *Searcher) apply(ctx context.Context, ws *workspace.Workspace, cr *compiledRule, id shared.ID) (*outcome, error) {
	var out *outcome
	err := s.store.Transaction(ctx, func(ctx context.Context, tx store.Repositories) error {
		out = &outcome{applied: map[rule.Command]int{}}

		v, err := tx.Vulnerabilities().GetByID(ctx, ws.ID(), id)
		if errors.Is(err, vulnerability.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		dirty := false
	actions:
		for _, a := range cr.actions {
			switch a := a.(type) {
			case rule.UpdateAction:
				before, _ := v.FieldValue(a.Field)
				if err := v.SetField(a.Field, a.Value); err != nil {
					return fmt.Errorf("%s: %w", a.Token(), err)
				}
				after, _ := v.FieldValue(a.Field)
				if after != before {
					dirty = true
				}
				out.applied[rule.CommandUpdate]++

			case rule.DeleteAction:
				if err := deleteVulnerability(ctx, tx, ws.ID(), v.ID()); err != nil {
					return fmt.Errorf("%s: %w", a.Token(), err)
				}
				dirty = false
				out.mutated = true
				out.applied[rule.CommandDelete]++
				break actions

			case rule.AlertAction:
				out.alerts = append(out.alerts, Alert{
					Workspace:       ws.Name(),
					RuleID:          cr.rule.ID().String(),
					Rule:            cr.rule.Label(),
					VulnerabilityID: v.ID(),
					Name:            v.Name(),
					Severity:        string(v.Severity()),
					Message:         a.Message,
					RaisedAt:        time.Now().UTC(),
				})
				out.applied[rule.CommandAlert]++
			}
		}

		if dirty {
			if err := tx.Vulnerabilities().Update(ctx, v); err != nil {
				return err
			}
			out.mutated = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func deleteVulnerability(ctx context.Context, tx store.Repositories, wsID, id shared.ID) error {
	if err := tx.Commands().DeleteObjectsFor(ctx, wsID, command.ObjectVulnerability, id); err != nil {
		return err
	}
	if err := tx.Notes().DeleteByObject(ctx, wsID, note.ObjectVulnerability, id); err != nil {
		return err
	}
	return tx.Vulnerabilities().Delete(ctx, wsID, id)
}

func (s *Searcher) dispatch(ctx context.Context, a Alert) {
	if s.sink == nil {
		return
	}
	if err := s.sink.SendAlert(ctx, a); err != nil {
		metrics.SearcherErrors.WithLabelValues("alert_dispatch").Inc()
		s.logger.Warn("alert dispatch failed", "workspace", a.Workspace, "rule", a.Rule, "error", err)
	}
}
