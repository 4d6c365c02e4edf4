package config

import (
	"fmt"

	"github.com/nlweb-go/gateway/internal/gwerrors"
)

// fieldError wraps a single invalid-field complaint as a KindConfiguration
// error.
func fieldError(field, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	return gwerrors.New(gwerrors.KindConfiguration, fmt.Sprintf("%s: %s", field, msg))
}
