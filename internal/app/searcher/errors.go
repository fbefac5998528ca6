package searcher

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openctemio/scanmerge/pkg/domain/shared"
)

// RuleErrorKind classifies rule failures.
type RuleErrorKind string

const (
	// RuleErrUnknownField means the query or an UPDATE action names a field the
	// rule's model does not have, or the model itself is unsupported. The rule
	// is skipped.
	RuleErrUnknownField RuleErrorKind = "unknown_field"
	// RuleErrInvalidValue means a query or UPDATE value failed field
	// normalization. The rule is skipped.
	RuleErrInvalidValue RuleErrorKind = "invalid_value"
	// RuleErrInvalidRule means a definition could not be parsed, or an UPDATE
	// targets a read-only field. The rule is skipped.
	RuleErrInvalidRule RuleErrorKind = "invalid_rule"
	// RuleErrActionFailed means an action failed on one matched entity. That
	// entity's changes roll back and the run continues.
	RuleErrActionFailed RuleErrorKind = "action_failed"
	// RuleErrQueryFailed means the store could not select the matches. The rule
	// is skipped.
	RuleErrQueryFailed RuleErrorKind = "query_failed"
)

// RuleError reports a failure of one rule, or of one rule on one entity.
type RuleError struct {
	Kind   RuleErrorKind
	Rule   string
	Entity *shared.ID
	Err    error
}

func (e *RuleError) Error() string {
	if e.Entity != nil {
		return fmt.Sprintf("rule %s: %s on %s: %v", e.Rule, e.Kind, e.Entity, e.Err)
	}
	return fmt.Sprintf("rule %s: %s: %v", e.Rule, e.Kind, e.Err)
}

func (e *RuleError) Unwrap() error { return e.Err }

// MarshalJSON includes the underlying error message.
func (e *RuleError) MarshalJSON() ([]byte, error) {
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return json.Marshal(struct {
		Kind    RuleErrorKind `json:"kind"`
		Rule    string        `json:"rule"`
		Entity  *shared.ID    `json:"entity,omitempty"`
		Message string        `json:"message"`
	}{e.Kind, e.Rule, e.Entity, msg})
}

// IsRuleError reports whether err is a RuleError of the given kind.
func IsRuleError(err error, kind RuleErrorKind) bool {
	var re *RuleError
	return errors.As(err, &re) && re.Kind == kind
}
