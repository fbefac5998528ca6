package rule

import (
	"fmt"
	"strings"

	"github.com/openctemio/scanmerge/pkg/domain/shared"
)

// Command is the kind of an action.
type Command string

const (
	CommandUpdate Command = "UPDATE"
	CommandDelete Command = "DELETE"
	CommandAlert  Command = "ALERT"
)

// Action is a parsed rule action: one of UpdateAction, DeleteAction or AlertAction.
type Action interface {
	Command() Command
	// Token renders the action in its textual form, e.g. "--UPDATE:severity=medium".
	Token() string
	isAction()
}

// UpdateAction sets one field to a value.
type UpdateAction struct {
	Field string
	Value string
}

// DeleteAction removes the matched entity.
type DeleteAction struct{}

// AlertAction reports the match without changing state.
type AlertAction struct {
	Message string
}

func (UpdateAction) Command() Command { return CommandUpdate }
func (DeleteAction) Command() Command { return CommandDelete }
func (AlertAction) Command() Command  { return CommandAlert }

func (a UpdateAction) Token() string { return "--UPDATE:" + a.Field + "=" + a.Value }
func (DeleteAction) Token() string   { return "--DELETE:" }
func (a AlertAction) Token() string  { return "--ALERT:" + a.Message }

func (UpdateAction) isAction() {}
func (DeleteAction) isAction() {}
func (AlertAction) isAction()  {}

// ParseAction parses an action token: "--UPDATE:field=value", "--DELETE:" or
// "--ALERT:message". The command is case-insensitive and the leading dashes optional.
func ParseAction(token string) (Action, error) {
	raw := strings.TrimSpace(token)
	body := strings.TrimPrefix(raw, "--")
	cmd, arg, ok := strings.Cut(body, ":")
	if !ok {
		// "--DELETE" without the trailing colon is accepted.
		cmd, arg = body, ""
	}
	switch Command(strings.ToUpper(strings.TrimSpace(cmd))) {
	case CommandUpdate:
		field, value, ok := strings.Cut(arg, "=")
		field = strings.ToLower(strings.TrimSpace(field))
		if !ok || field == "" {
			return nil, fmt.Errorf("%w: %q: expected --UPDATE:field=value", ErrInvalidAction, raw)
		}
		return UpdateAction{Field: field, Value: strings.TrimSpace(value)}, nil
	case CommandDelete:
		if strings.TrimSpace(arg) != "" {
			return nil, fmt.Errorf("%w: %q: DELETE takes no argument", ErrInvalidAction, raw)
		}
		return DeleteAction{}, nil
	case CommandAlert:
		return AlertAction{Message: strings.TrimSpace(arg)}, nil
	default:
		return nil, fmt.Errorf("%w: %q: unknown command", ErrInvalidAction, raw)
	}
}

// ActionData is the persisted form of an action row.
type ActionData struct {
	ID      shared.ID
	Command Command
	Field   string
	Value   string
}

// ToData converts an action to its persisted row.
func ToData(a Action) ActionData {
	d := ActionData{ID: shared.NewID(), Command: a.Command()}
	switch act := a.(type) {
	case UpdateAction:
		d.Field, d.Value = act.Field, act.Value
	case AlertAction:
		d.Value = act.Message
	}
	return d
}

// FromData rebuilds an action from its persisted row.
func FromData(d ActionData) (Action, error) {
	switch d.Command {
	case CommandUpdate:
		if d.Field == "" {
			return nil, fmt.Errorf("%w: update action %s has no field", ErrInvalidAction, d.ID)
		}
		return UpdateAction{Field: d.Field, Value: d.Value}, nil
	case CommandDelete:
		return DeleteAction{}, nil
	case CommandAlert:
		return AlertAction{Message: d.Value}, nil
	default:
		return nil, fmt.Errorf("%w: unknown command %q", ErrInvalidAction, d.Command)
	}
}
