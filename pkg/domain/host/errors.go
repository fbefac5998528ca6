package host

import (
	"fmt"

	"github.com/openctemio/scanmerge/pkg/domain/shared"
)

// Domain errors for hosts and services.
var (
	ErrHostNotFound    = fmt.Errorf("%w: host not found", shared.ErrNotFound)
	ErrServiceNotFound = fmt.Errorf("%w: service not found", shared.ErrNotFound)
)
