package credential

import (
	"fmt"

	"github.com/openctemio/scanmerge/pkg/domain/shared"
)

// ErrNotFound is returned when a credential does not exist.
var ErrNotFound = fmt.Errorf("%w: credential not found", shared.ErrNotFound)
