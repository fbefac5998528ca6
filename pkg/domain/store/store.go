// Package store defines the transactional unit of work over every repository.
package store

import (
	"context"

	"github.com/openctemio/scanmerge/pkg/domain/command"
	"github.com/openctemio/scanmerge/pkg/domain/credential"
	"github.com/openctemio/scanmerge/pkg/domain/host"
	"github.com/openctemio/scanmerge/pkg/domain/note"
	"github.com/openctemio/scanmerge/pkg/domain/rule"
	"github.com/openctemio/scanmerge/pkg/domain/vulnerability"
	"github.com/openctemio/scanmerge/pkg/domain/workspace"
)

// Repositories gives access to every repository. Inside a transaction all of
// them share the same underlying transaction.
type Repositories interface {
	Workspaces() workspace.Repository
	Hosts() host.Repository
	Services() host.ServiceRepository
	Vulnerabilities() vulnerability.Repository
	Credentials() credential.Repository
	Notes() note.Repository
	Commands() command.Repository
	Rules() rule.Repository
}

// Store is the entity store. Repositories used outside Transaction run in
// autocommit mode.
type Store interface {
	Repositories

	// Transaction runs fn against repositories bound to one transaction. The
	// transaction commits when fn returns nil and rolls back otherwise.
	Transaction(ctx context.Context, fn func(ctx context.Context, tx Repositories) error) error
}
