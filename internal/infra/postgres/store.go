package postgres

import (
	"context"

	"github.com/openctemio/scanmerge/pkg/domain/command"
	"github.com/openctemio/scanmerge/pkg/domain/credential"
	"github.com/openctemio/scanmerge/pkg/domain/host"
	"github.com/openctemio/scanmerge/pkg/domain/note"
	"github.com/openctemio/scanmerge/pkg/domain/rule"
	"github.com/openctemio/scanmerge/pkg/domain/store"
	"github.com/openctemio/scanmerge/pkg/domain/vulnerability"
	"github.com/openctemio/scanmerge/pkg/domain/workspace"
)

// repositories binds every repository to one querier.
type repositories struct {
	q querier
}

func (r repositories) Workspaces() workspace.Repository          { return &WorkspaceRepository{q: r.q} }
func (r repositories) Hosts() host.Repository                    { return &HostRepository{q: r.q} }
func (r repositories) Services() host.ServiceRepository          { return &ServiceRepository{q: r.q} }
func (r repositories) Vulnerabilities() vulnerability.Repository { return &VulnerabilityRepository{q: r.q} }
func (r repositories) Credentials() credential.Repository        { return &CredentialRepository{q: r.q} }
func (r repositories) Notes() note.Repository                    { return &NoteRepository{q: r.q} }
func (r repositories) Commands() command.Repository              { return &CommandRepository{q: r.q} }
func (r repositories) Rules() rule.Repository                    { return &RuleRepository{q: r.q} }

// Store implements store.Store on PostgreSQL.
type Store struct {
	repositories
	db *DB
}

var _ store.Store = (*Store)(nil)

// NewStore creates a store whose repositories autocommit.
func NewStore(db *DB) *Store {
	return &Store{repositories: repositories{q: db.DB}, db: db}
}

// Transaction runs fn with repositories bound to one database transaction.
func (s *Store) Transaction(ctx context.Context, fn func(ctx context.Context, tx store.Repositories) error) error {
	return inTx(ctx, s.db.DB, func(q querier) error {
		return fn(ctx, repositories{q: q})
	})
}
