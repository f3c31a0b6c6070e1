// Package stores holds the persistence drivers for the current simulation.
// Every driver keeps at most one record.
package stores

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when an update names a simulation that is not
// stored.
var ErrNotFound = errors.New("simulation not found")

const (
	DriverPostgres = "postgres"
	DriverBadger   = "badger"
	DriverMemory   = "memory"
	DriverR2       = "r2"
)

// ParseDriver normalises a driver name from configuration.
func ParseDriver(name string) (string, error) {
	switch d := strings.ToLower(strings.TrimSpace(name)); d {
	case DriverPostgres, "postgresql", "pg":
		return DriverPostgres, nil
	case DriverBadger:
		return DriverBadger, nil
	case DriverR2, "s3":
		return DriverR2, nil
	case DriverMemory, "mem", "":
		return DriverMemory, nil
	default:
		return "", fmt.Errorf("unknown store driver %q", name)
	}
}
