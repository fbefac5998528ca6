package rule

import (
	"fmt"

	"github.com/openctemio/scanmerge/pkg/domain/shared"
)

// Domain errors for automation rules.
var (
	ErrNotFound         = fmt.Errorf("%w: rule not found", shared.ErrNotFound)
	ErrInvalidQuery     = fmt.Errorf("%w: invalid rule query", shared.ErrValidation)
	ErrInvalidAction    = fmt.Errorf("%w: invalid rule action", shared.ErrValidation)
	ErrUnsupportedModel = fmt.Errorf("%w: unsupported rule model", shared.ErrValidation)
)
