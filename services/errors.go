package services

import (
	"errors"
	"fmt"
	"time"

	"fms-api/stores"
)

var (
	// ErrRestartTooSoon is matched by every *RestartTooSoonError.
	ErrRestartTooSoon = errors.New("restart too soon")
	// ErrNotFound means the named simulation is not the stored one.
	ErrNotFound = stores.ErrNotFound
	// ErrInvalidName is returned for an empty simulation name.
	ErrInvalidName = errors.New("simulation name must not be empty")
)

// RestartTooSoonError rejects a start request issued before the cooldown of
// the stored simulation has elapsed.
type RestartTooSoonError struct {
	Cooldown  time.Duration
	Remaining time.Duration
}

func (e *RestartTooSoonError) Error() string {
	return fmt.Sprintf("Can't run simulation sooner than %s after previous run", humanSeconds(e.Cooldown))
}

func (e *RestartTooSoonError) Is(target error) bool {
	return target == ErrRestartTooSoon
}

func humanSeconds(d time.Duration) string {
	if d%time.Second == 0 {
		secs := int64(d / time.Second)
		if secs == 1 {
			return "1 second"
		}
		return fmt.Sprintf("%d seconds", secs)
	}
	return d.String()
}
