package kernel

import "github.com/samcharles93/stratum/internal/status"

// The error taxonomy lives in internal/status so tensor and window can
// report it too; these names are what strategy code uses.
var (
	ErrConfiguration = status.ErrConfiguration
	ErrUnsupported   = status.ErrUnsupported
	ErrValidation    = status.ErrValidation
)

// ValidationError is returned by strategy predicates.
type ValidationError = status.ValidationError

// Invalid is shorthand for a strategy rejecting a configuration.
func Invalid(s *Strategy, format string, args ...any) error {
	name := ""
	if s != nil {
		name = s.Name
	}
	return status.Validation(name, format, args...)
}
