package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/openctemio/scanmerge/internal/app"
	"github.com/openctemio/scanmerge/pkg/domain/workspace"
)

var workspaceCmd = &cobra.Command{
	Use:     "workspace",
	Aliases: []string{"workspaces", "ws"},
	Short:   "Manage workspaces",
}

var workspaceCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create an active workspace",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkspaceCreate,
}

var workspaceActivateCmd = &cobra.Command{
	Use:   "activate NAME",
	Short: "Accept new reports for a workspace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setWorkspaceActive(cmd, args[0], true)
	},
}

var workspaceDeactivateCmd = &cobra.Command{
	Use:   "deactivate NAME",
	Short: "Reject new reports for a workspace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setWorkspaceActive(cmd, args[0], false)
	},
}

var workspaceListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List workspaces",
	Args:    cobra.NoArgs,
	RunE:    runWorkspaceList,
}

func init() {
	workspaceCreateCmd.Flags().String("description", "", "Workspace description")

	workspaceCmd.AddCommand(workspaceCreateCmd)
	workspaceCmd.AddCommand(workspaceActivateCmd)
	workspaceCmd.AddCommand(workspaceDeactivateCmd)
	workspaceCmd.AddCommand(workspaceListCmd)
}

// WorkspaceOutput is the printed form of a workspace.
type WorkspaceOutput struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toWorkspaceOutput(ws *workspace.Workspace) WorkspaceOutput {
	return WorkspaceOutput{
		ID:          ws.ID().String(),
		Name:        ws.Name(),
		Description: ws.Description(),
		Active:      ws.IsActive(),
		CreatedAt:   ws.CreatedAt(),
		UpdatedAt:   ws.UpdatedAt(),
	}
}

func printWorkspaces(list []*workspace.Workspace) {
	out := make([]WorkspaceOutput, 0, len(list))
	for _, ws := range list {
		out = append(out, toWorkspaceOutput(ws))
	}
	if printStructured(out) {
		return
	}

	t := newTable("NAME", "ACTIVE", "ID", "CREATED", "DESCRIPTION")
	for _, ws := range out {
		t.AddRow(ws.Name, boolToStr(ws.Active), ws.ID, shortTime(ws.CreatedAt), ws.Description)
	}
	t.Flush()
}

func runWorkspaceCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	description, _ := cmd.Flags().GetString("description")
	ws, err := app.NewWorkspaceService(e.store.Workspaces(), e.log).Create(ctx, app.CreateWorkspaceInput{
		Name:        args[0],
		Description: description,
	})
	if err != nil {
		return err
	}
	printWorkspaces([]*workspace.Workspace{ws})
	return nil
}

func setWorkspaceActive(cmd *cobra.Command, name string, active bool) error {
	ctx := cmd.Context()
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	ws, err := app.NewWorkspaceService(e.store.Workspaces(), e.log).SetActive(ctx, name, active)
	if err != nil {
		return err
	}
	printWorkspaces([]*workspace.Workspace{ws})
	return nil
}

func runWorkspaceList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	list, err := app.NewWorkspaceService(e.store.Workspaces(), e.log).List(ctx)
	if err != nil {
		return err
	}
	printWorkspaces(list)
	return nil
}
