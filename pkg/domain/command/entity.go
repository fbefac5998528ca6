// Package command defines the Command entity recording one import, and the
// CommandObject audit edges linking it to every object it touched.
package command

import (
	"fmt"
	"strings"
	"time"

	"github.com/openctemio/scanmerge/pkg/domain/shared"
)

// ImportSource records how the data behind a command reached the server.
type ImportSource string

const (
	ImportSourceShell  ImportSource = "shell"
	ImportSourceReport ImportSource = "report"
	ImportSourceAgent  ImportSource = "agent"
)

// ParseImportSource parses an import source. Empty input means report.
func ParseImportSource(s string) (ImportSource, error) {
	switch src := ImportSource(strings.ToLower(strings.TrimSpace(s))); src {
	case "":
		return ImportSourceReport, nil
	case ImportSourceShell, ImportSourceReport, ImportSourceAgent:
		return src, nil
	default:
		return "", fmt.Errorf("%w: invalid import source %q", shared.ErrValidation, s)
	}
}

// CommandStatus represents the status of a command.
type CommandStatus string

const (
	CommandStatusRunning   CommandStatus = "running"
	CommandStatusCompleted CommandStatus = "completed"
	CommandStatusFailed    CommandStatus = "failed"
)

// Command is one execution of a tool whose output was imported into a workspace.
type Command struct {
	ID          shared.ID
	WorkspaceID shared.ID

	Tool         string
	CommandLine  string
	Params       string
	ImportSource ImportSource

	// Submitting identity and the machine the tool ran on.
	User     string
	Hostname string
	IP       string
	Creator  string

	Status       CommandStatus
	ErrorMessage string

	StartDate time.Time
	EndDate   *time.Time
	CreatedAt time.Time
}

// NewCommand creates a running command for an import.
func NewCommand(workspaceID shared.ID, tool string, source ImportSource, creator string) (*Command, error) {
	if workspaceID.IsZero() {
		return nil, shared.NewDomainError("VALIDATION", "workspace id is required", shared.ErrValidation)
	}
	tool = strings.TrimSpace(tool)
	if tool == "" {
		return nil, shared.NewDomainError("VALIDATION", "tool is required", shared.ErrValidation)
	}
	if source == "" {
		source = ImportSourceReport
	}

	now := time.Now().UTC()
	return &Command{
		ID:           shared.NewID(),
		WorkspaceID:  workspaceID,
		Tool:         tool,
		ImportSource: source,
		User:         creator,
		Creator:      creator,
		Status:       CommandStatusRunning,
		StartDate:    now,
		CreatedAt:    now,
	}, nil
}

// Complete marks the command as completed.
func (c *Command) Complete() {
	now := time.Now().UTC()
	c.Status = CommandStatusCompleted
	c.EndDate = &now
}

// Fail marks the command as failed.
func (c *Command) Fail(errorMessage string) {
	now := time.Now().UTC()
	c.Status = CommandStatusFailed
	c.EndDate = &now
	c.ErrorMessage = errorMessage
}

// Duration returns how long the import ran, or zero while it is still running.
func (c *Command) Duration() time.Duration {
	if c.EndDate == nil {
		return 0
	}
	return c.EndDate.Sub(c.StartDate)
}
