// Package memory provides an in-process implementation of the entity store.
//
// Transactions run against a copy of the state that replaces the live state on
// commit, so a failed transaction leaves nothing behind. Transactions are
// serialized. Calling the store's autocommit repositories from inside a
// transaction callback deadlocks; use the tx argument instead.
package memory

import (
	"context"
	"maps"
	"sync"

	"github.com/openctemio/scanmerge/pkg/domain/command"
	"github.com/openctemio/scanmerge/pkg/domain/credential"
	"github.com/openctemio/scanmerge/pkg/domain/host"
	"github.com/openctemio/scanmerge/pkg/domain/note"
	"github.com/openctemio/scanmerge/pkg/domain/rule"
	"github.com/openctemio/scanmerge/pkg/domain/shared"
	"github.com/openctemio/scanmerge/pkg/domain/store"
	"github.com/openctemio/scanmerge/pkg/domain/vulnerability"
	"github.com/openctemio/scanmerge/pkg/domain/workspace"
)

type ruleRow struct {
	seq  int64
	data rule.Data
}

type objectRow struct {
	seq int64
	obj command.Object
}

type state struct {
	seq int64

	workspaces map[shared.ID]workspace.Data
	hosts      map[shared.ID]host.HostData
	services   map[shared.ID]host.ServiceData
	vulns      map[shared.ID]vulnerability.Data
	creds      map[shared.ID]credential.Data
	notes      map[shared.ID]note.Data
	commands   map[shared.ID]command.Command
	objects    map[shared.ID]objectRow
	rules      map[shared.ID]ruleRow
}

func newState() *state {
	return &state{
		workspaces: make(map[shared.ID]workspace.Data),
		hosts:      make(map[shared.ID]host.HostData),
		services:   make(map[shared.ID]host.ServiceData),
		vulns:      make(map[shared.ID]vulnerability.Data),
		creds:      make(map[shared.ID]credential.Data),
		notes:      make(map[shared.ID]note.Data),
		commands:   make(map[shared.ID]command.Command),
		objects:    make(map[shared.ID]objectRow),
		rules:      make(map[shared.ID]ruleRow),
	}
}

// clone copies the maps. Stored values are treated as immutable: every write
// replaces the map entry, so sharing slices between copies is safe.
func (st *state) clone() *state {
	return &state{
		seq:        st.seq,
		workspaces: maps.Clone(st.workspaces),
		hosts:      maps.Clone(st.hosts),
		services:   maps.Clone(st.services),
		vulns:      maps.Clone(st.vulns),
		creds:      maps.Clone(st.creds),
		notes:      maps.Clone(st.notes),
		commands:   maps.Clone(st.commands),
		objects:    maps.Clone(st.objects),
		rules:      maps.Clone(st.rules),
	}
}

func (st *state) next() int64 {
	st.seq++
	return st.seq
}

// Store is an in-memory entity store.
type Store struct {
	mu sync.Mutex
	st *state
}

var _ store.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{st: newState()}
}

// view binds repositories either to the live state (autocommit, locked per
// call) or to a transaction's private copy.
type view struct {
	s  *Store
	tx *state
}

func (v view) begin() (*state, func()) {
	if v.tx != nil {
		return v.tx, func() {}
	}
	v.s.mu.Lock()
	return v.s.st, v.s.mu.Unlock
}

type repos struct {
	v view
}

func (r repos) Workspaces() workspace.Repository          { return workspaceRepo{r.v} }
func (r repos) Hosts() host.Repository                    { return hostRepo{r.v} }
func (r repos) Services() host.ServiceRepository          { return serviceRepo{r.v} }
func (r repos) Vulnerabilities() vulnerability.Repository { return vulnRepo{r.v} }
func (r repos) Credentials() credential.Repository        { return credentialRepo{r.v} }
func (r repos) Notes() note.Repository                    { return noteRepo{r.v} }
func (r repos) Commands() command.Repository              { return commandRepo{r.v} }
func (r repos) Rules() rule.Repository                    { return ruleRepo{r.v} }

func (s *Store) autocommit() repos { return repos{view{s: s}} }

func (s *Store) Workspaces() workspace.Repository          { return s.autocommit().Workspaces() }
func (s *Store) Hosts() host.Repository                    { return s.autocommit().Hosts() }
func (s *Store) Services() host.ServiceRepository          { return s.autocommit().Services() }
func (s *Store) Vulnerabilities() vulnerability.Repository { return s.autocommit().Vulnerabilities() }
func (s *Store) Credentials() credential.Repository        { return s.autocommit().Credentials() }
func (s *Store) Notes() note.Repository                    { return s.autocommit().Notes() }
func (s *Store) Commands() command.Repository              { return s.autocommit().Commands() }
func (s *Store) Rules() rule.Repository                    { return s.autocommit().Rules() }

// Transaction implements store.Store.
func (s *Store) Transaction(ctx context.Context, fn func(ctx context.Context, tx store.Repositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.st.clone()
	if err := fn(ctx, repos{view{s: s, tx: work}}); err != nil {
		return err
	}
	s.st = work
	return nil
}
