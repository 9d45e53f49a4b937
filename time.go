package identity

import (
	"time"

	"github.com/goliatone/go-errors"
)

// IsOutsideThresholdPeriod reports whether more than the given window has
// elapsed since start. The window uses time.ParseDuration syntax, e.g. "24h".
func IsOutsideThresholdPeriod(start time.Time, window string) (bool, error) {
	period, err := time.ParseDuration(window)
	if err != nil {
		return false, errors.Wrap(err, errors.CategoryBadInput, "invalid threshold period").
			WithMetadata(map[string]any{"window": window})
	}
	return time.Since(start) > period, nil
}
