package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openctemio/scanmerge/internal/metrics"
	"github.com/openctemio/scanmerge/pkg/domain/command"
	"github.com/openctemio/scanmerge/pkg/domain/credential"
	"github.com/openctemio/scanmerge/pkg/domain/host"
	"github.com/openctemio/scanmerge/pkg/domain/note"
	"github.com/openctemio/scanmerge/pkg/domain/shared"
	"github.com/openctemio/scanmerge/pkg/domain/store"
	"github.com/openctemio/scanmerge/pkg/domain/vulnerability"
	"github.com/openctemio/scanmerge/pkg/domain/workspace"
	"github.com/openctemio/scanmerge/pkg/logger"
)

// defaultCreator is recorded on entities imported without a submitting user.
const defaultCreator = "system"

// KindCounts counts the outcome of the facts of one entity kind.
type KindCounts struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Failed    int `json:"failed"`
}

func (c *KindCounts) record(created, changed bool) {
	switch {
	case created:
		c.Created++
	case changed:
		c.Updated++
	default:
		c.Unchanged++
	}
}

// MergeResult summarizes one applied batch.
type MergeResult struct {
	CommandID       shared.ID     `json:"command_id"`
	Workspace       string        `json:"workspace"`
	Hosts           KindCounts    `json:"hosts"`
	Services        KindCounts    `json:"services"`
	Vulnerabilities KindCounts    `json:"vulnerabilities"`
	Credentials     KindCounts    `json:"credentials"`
	Notes           KindCounts    `json:"notes"`
	Edges           int           `json:"edges"`
	Skipped         int           `json:"skipped"`
	Errors          []*MergeError `json:"-"`
}

// FailedFacts returns the number of facts rejected during the merge.
func (r *MergeResult) FailedFacts() int {
	return r.Hosts.Failed + r.Services.Failed + r.Vulnerabilities.Failed + r.Credentials.Failed + r.Notes.Failed
}

func (r *MergeResult) fail(counts *KindCounts, err *MergeError) {
	counts.Failed++
	if len(r.Errors) < MaxErrorsToReturn {
		r.Errors = append(r.Errors, err)
	}
}

// MergeEngine applies canonical batches to the entity store.
type MergeEngine struct {
	store  store.Store
	logger *logger.Logger
}

// NewMergeEngine creates a merge engine.
func NewMergeEngine(st store.Store, log *logger.Logger) *MergeEngine {
	return &MergeEngine{
		store:  st,
		logger: log.With("component", "merge"),
	}
}

// Apply merges the batch into the workspace inside one transaction. Facts
// that fail validation are counted and skipped; a store failure rolls the
// whole batch back and returns a TransactionFailed MergeError.
func (e *MergeEngine) Apply(ctx context.Context, batch *CanonicalBatch, ws *workspace.Workspace) (*MergeResult, error) {
	var result *MergeResult
	err := e.store.Transaction(ctx, func(ctx context.Context, tx store.Repositories) error {
		m := &merge{tx: tx, ws: ws, batch: batch, result: &MergeResult{Workspace: ws.Name(), Skipped: batch.Skipped()}}
		if err := m.run(ctx); err != nil {
			return err
		}
		result = m.result
		return nil
	})
	if err != nil {
		var me *MergeError
		if errors.As(err, &me) {
			return nil, err
		}
		return nil, &MergeError{Kind: MergeErrTransactionFailed, Err: err}
	}

	recordFactMetrics(result)
	e.logger.Info("batch merged",
		"workspace", ws.Name(),
		"command_id", result.CommandID.String(),
		"tool", batch.Command.Tool,
		"hosts_created", result.Hosts.Created,
		"services_created", result.Services.Created,
		"vulns_created", result.Vulnerabilities.Created,
		"vulns_updated", result.Vulnerabilities.Updated,
		"failed", result.FailedFacts(),
		"skipped", result.Skipped,
	)
	return result, nil
}

// merge holds the state of one Apply call.
type merge struct {
	tx     store.Repositories
	ws     *workspace.Workspace
	batch  *CanonicalBatch
	result *MergeResult
	cmd    *command.Command

	hostIDs    []shared.ID
	serviceIDs []shared.ID
	vulnIDs    []shared.ID
}

func (m *merge) creator() string {
	if u := strings.TrimSpace(m.batch.Command.User); u != "" {
		return u
	}
	return defaultCreator
}

func (m *merge) run(ctx context.Context) error {
	if err := m.createCommand(ctx); err != nil {
		return err
	}

	steps := []func(context.Context) error{
		m.mergeHosts,
		m.mergeServices,
		m.mergeVulnerabilities,
		m.mergeCredentials,
		m.mergeNotes,
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := step(ctx); err != nil {
			return err
		}
	}

	m.cmd.Complete()
	if err := m.tx.Commands().Update(ctx, m.cmd); err != nil {
		return fmt.Errorf("finish command: %w", err)
	}
	return nil
}

func (m *merge) createCommand(ctx context.Context) error {
	meta := m.batch.Command
	cmd, err := command.NewCommand(m.ws.ID(), meta.Tool, meta.ImportSource, m.creator())
	if err != nil {
		return &MergeError{Kind: MergeErrInvalidFact, Fact: "command", Err: err}
	}
	cmd.CommandLine = meta.CommandLine
	cmd.Params = meta.Params
	cmd.Hostname = meta.Hostname
	cmd.IP = meta.IP
	if !meta.StartDate.IsZero() {
		cmd.StartDate = meta.StartDate
	}
	if err := m.tx.Commands().Create(ctx, cmd); err != nil {
		return fmt.Errorf("create command: %w", err)
	}
	m.cmd = cmd
	m.result.CommandID = cmd.ID
	return nil
}

func (m *merge) edge(ctx context.Context, objectType command.ObjectType, id shared.ID, created bool) error {
	obj, err := command.NewObject(m.cmd, objectType, id, created)
	if err != nil {
		return err
	}
	added, err := m.tx.Commands().AddObject(ctx, obj)
	if err != nil {
		return fmt.Errorf("add %s edge: %w", objectType, err)
	}
	if added {
		m.result.Edges++
	}
	return nil
}

func (m *merge) mergeHosts(ctx context.Context) error {
	m.hostIDs = make([]shared.ID, len(m.batch.Hosts))
	for i, f := range m.batch.Hosts {
		h, err := m.tx.Hosts().GetByIP(ctx, m.ws.ID(), host.NormalizeIP(f.IP))
		created, changed := false, false
		switch {
		case errors.Is(err, shared.ErrNotFound):
			h, err = host.NewHost(m.ws.ID(), f.IP, m.creator(), f.Attrs)
			if err != nil {
				m.result.fail(&m.result.Hosts, &MergeError{Kind: MergeErrInvalidFact, Fact: "host", Index: i, Err: err})
				continue
			}
			if err := m.tx.Hosts().Create(ctx, h); err != nil {
				return fmt.Errorf("create host %s: %w", h.IP(), err)
			}
			created = true
		case err != nil:
			return fmt.Errorf("get host %s: %w", f.IP, err)
		default:
			if changed = h.Merge(f.Attrs); changed {
				if err := m.tx.Hosts().Update(ctx, h); err != nil {
					return fmt.Errorf("update host %s: %w", h.IP(), err)
				}
			}
		}

		m.hostIDs[i] = h.ID()
		m.result.Hosts.record(created, changed)
		if err := m.edge(ctx, command.ObjectHost, h.ID(), created); err != nil {
			return err
		}
	}
	return nil
}

func (m *merge) mergeServices(ctx context.Context) error {
	m.serviceIDs = make([]shared.ID, len(m.batch.Services))
	for i, f := range m.batch.Services {
		hostID, ok := lookupIndex(m.hostIDs, f.Host)
		if !ok {
			m.result.fail(&m.result.Services, &MergeError{
				Kind: MergeErrInvalidFact, Fact: "service", Index: i,
				Err: fmt.Errorf("%w: unresolved host index %d", shared.ErrValidation, f.Host),
			})
			continue
		}

		svc, err := m.tx.Services().GetByKey(ctx, hostID, f.Port, f.Protocol)
		created, changed := false, false
		switch {
		case errors.Is(err, shared.ErrNotFound):
			svc, err = host.NewService(m.ws.ID(), hostID, f.Port, f.Protocol, m.creator(), f.Attrs)
			if err != nil {
				m.result.fail(&m.result.Services, &MergeError{Kind: MergeErrInvalidFact, Fact: "service", Index: i, Err: err})
				continue
			}
			if err := m.tx.Services().Create(ctx, svc); err != nil {
				return fmt.Errorf("create service %d/%s: %w", f.Port, f.Protocol, err)
			}
			created = true
		case err != nil:
			return fmt.Errorf("get service %d/%s: %w", f.Port, f.Protocol, err)
		default:
			if changed = svc.Merge(f.Attrs); changed {
				if err := m.tx.Services().Update(ctx, svc); err != nil {
					return fmt.Errorf("update service %d/%s: %w", f.Port, f.Protocol, err)
				}
			}
		}

		m.serviceIDs[i] = svc.ID()
		m.result.Services.record(created, changed)
		if err := m.edge(ctx, command.ObjectService, svc.ID(), created); err != nil {
			return err
		}
	}
	return nil
}

// resolveParent turns a batch parent reference into an entity parent,
// rejecting references that name both or neither of host and service.
func (m *merge) resolveParent(fact string, index int, ref ParentRef) (shared.Parent, *MergeError) {
	if (ref.Host == nil) == (ref.Service == nil) {
		return shared.Parent{}, invalidParent(fact, index)
	}
	if ref.Host != nil {
		id, ok := lookupIndex(m.hostIDs, *ref.Host)
		if !ok {
			return shared.Parent{}, &MergeError{
				Kind: MergeErrInvalidFact, Fact: fact, Index: index,
				Err: fmt.Errorf("%w: unresolved host index %d", shared.ErrValidation, *ref.Host),
			}
		}
		return shared.HostParent(id), nil
	}
	id, ok := lookupIndex(m.serviceIDs, *ref.Service)
	if !ok {
		return shared.Parent{}, &MergeError{
			Kind: MergeErrInvalidFact, Fact: fact, Index: index,
			Err: fmt.Errorf("%w: unresolved service index %d", shared.ErrValidation, *ref.Service),
		}
	}
	return shared.ServiceParent(id), nil
}

func (m *merge) mergeVulnerabilities(ctx context.Context) error {
	m.vulnIDs = make([]shared.ID, len(m.batch.Vulnerabilities))
	for i, f := range m.batch.Vulnerabilities {
		parent, perr := m.resolveParent("vulnerability", i, f.Parent)
		if perr != nil {
			m.result.fail(&m.result.Vulnerabilities, perr)
			continue
		}

		candidate, err := vulnerability.NewVulnerability(m.ws.ID(), parent, f.Name, m.creator(), f.Attrs)
		if err != nil {
			m.result.fail(&m.result.Vulnerabilities, &MergeError{Kind: MergeErrInvalidFact, Fact: "vulnerability", Index: i, Err: err})
			continue
		}

		v, err := m.tx.Vulnerabilities().GetByDedupKey(ctx, m.ws.ID(), candidate.DedupKey())
		created, changed := false, false
		switch {
		case errors.Is(err, shared.ErrNotFound):
			if err := m.tx.Vulnerabilities().Create(ctx, candidate); err != nil {
				return fmt.Errorf("create vulnerability %q: %w", candidate.Name(), err)
			}
			v, created = candidate, true
		case err != nil:
			return fmt.Errorf("get vulnerability %q: %w", candidate.Name(), err)
		default:
			if changed = v.Merge(f.Attrs); changed {
				if err := m.tx.Vulnerabilities().Update(ctx, v); err != nil {
					return fmt.Errorf("update vulnerability %q: %w", v.Name(), err)
				}
			}
		}

		m.vulnIDs[i] = v.ID()
		m.result.Vulnerabilities.record(created, changed)
		if err := m.edge(ctx, command.ObjectVulnerability, v.ID(), created); err != nil {
			return err
		}
	}
	return nil
}

func (m *merge) mergeCredentials(ctx context.Context) error {
	for i, f := range m.batch.Credentials {
		parent, perr := m.resolveParent("credential", i, f.Parent)
		if perr != nil {
			m.result.fail(&m.result.Credentials, perr)
			continue
		}

		c, err := m.tx.Credentials().GetByKey(ctx, m.ws.ID(), parent, strings.TrimSpace(f.Username))
		created, changed := false, false
		switch {
		case errors.Is(err, shared.ErrNotFound):
			c, err = credential.NewCredential(m.ws.ID(), parent, f.Username, m.creator(), f.Attrs)
			if err != nil {
				m.result.fail(&m.result.Credentials, &MergeError{Kind: MergeErrInvalidFact, Fact: "credential", Index: i, Err: err})
				continue
			}
			if err := m.tx.Credentials().Create(ctx, c); err != nil {
				return fmt.Errorf("create credential: %w", err)
			}
			created = true
		case err != nil:
			return fmt.Errorf("get credential: %w", err)
		default:
			if changed = c.Merge(f.Attrs); changed {
				if err := m.tx.Credentials().Update(ctx, c); err != nil {
					return fmt.Errorf("update credential: %w", err)
				}
			}
		}

		m.result.Credentials.record(created, changed)
		if err := m.edge(ctx, command.ObjectCredential, c.ID(), created); err != nil {
			return err
		}
	}
	return nil
}

func (m *merge) mergeNotes(ctx context.Context) error {
	for i, f := range m.batch.Notes {
		var (
			objectID shared.ID
			ok       bool
		)
		switch f.Target.Kind {
		case note.ObjectHost:
			objectID, ok = lookupIndex(m.hostIDs, f.Target.Index)
		case note.ObjectService:
			objectID, ok = lookupIndex(m.serviceIDs, f.Target.Index)
		case note.ObjectVulnerability:
			objectID, ok = lookupIndex(m.vulnIDs, f.Target.Index)
		}
		if !ok {
			m.result.fail(&m.result.Notes, &MergeError{
				Kind: MergeErrInvalidFact, Fact: "note", Index: i,
				Err: fmt.Errorf("%w: unresolved %s index %d", shared.ErrValidation, f.Target.Kind, f.Target.Index),
			})
			continue
		}

		n, err := m.tx.Notes().Find(ctx, m.ws.ID(), f.Target.Kind, objectID, f.Text)
		created := false
		switch {
		case errors.Is(err, shared.ErrNotFound):
			n, err = note.NewNote(m.ws.ID(), f.Target.Kind, objectID, f.Text, m.creator())
			if err != nil {
				m.result.fail(&m.result.Notes, &MergeError{Kind: MergeErrInvalidFact, Fact: "note", Index: i, Err: err})
				continue
			}
			if err := m.tx.Notes().Create(ctx, n); err != nil {
				return fmt.Errorf("create note: %w", err)
			}
			created = true
		case err != nil:
			return fmt.Errorf("find note: %w", err)
		}

		m.result.Notes.record(created, false)
		if err := m.edge(ctx, command.ObjectNote, n.ID(), created); err != nil {
			return err
		}
	}
	return nil
}

// lookupIndex returns ids[i] when i is in range and the fact at i merged.
func lookupIndex(ids []shared.ID, i int) (shared.ID, bool) {
	if i < 0 || i >= len(ids) || ids[i].IsZero() {
		return shared.ID{}, false
	}
	return ids[i], true
}

func recordFactMetrics(r *MergeResult) {
	for kind, c := range map[string]KindCounts{
		"host":          r.Hosts,
		"service":       r.Services,
		"vulnerability": r.Vulnerabilities,
		"credential":    r.Credentials,
		"note":          r.Notes,
	} {
		metrics.IngestFacts.WithLabelValues(kind, "created").Add(float64(c.Created))
		metrics.IngestFacts.WithLabelValues(kind, "updated").Add(float64(c.Updated))
		metrics.IngestFacts.WithLabelValues(kind, "failed").Add(float64(c.Failed))
	}
	metrics.IngestFacts.WithLabelValues("any", "skipped").Add(float64(r.Skipped))
}
