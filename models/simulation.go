// models/simulation.go
package models

import (
	"time"
)

type SimulationState string

const (
	SimulationStateReady    SimulationState = "ready"
	SimulationStateRunning  SimulationState = "running"
	SimulationStateFinished SimulationState = "finished"
)

// MatchesPerSimulation is the fixed roster size of every simulation.
const MatchesPerSimulation = 3

// Simulation is the single active run. Only one record is ever stored.
type Simulation struct {
	ID        string          `json:"id" gorm:"primaryKey;type:uuid" msgpack:"id"`
	Name      string          `json:"name" gorm:"uniqueIndex;not null" msgpack:"name"`
	State     SimulationState `json:"state" gorm:"type:varchar(16);not null;default:'ready'" msgpack:"state"`
	Matches   MatchList       `json:"matches" gorm:"type:jsonb" msgpack:"matches"`
	StartTime time.Time       `json:"start_time" gorm:"not null" msgpack:"start_time"`

	Timestamps
}

// SimulationUpdate carries the fields a partial update may change. Nil
// fields are left untouched.
type SimulationUpdate struct {
	State     *SimulationState
	Matches   []Match
	StartTime *time.Time
}

// Apply writes the non-nil fields of u into s.
func (u SimulationUpdate) Apply(s *Simulation) {
	if u.State != nil {
		s.State = *u.State
	}
	if u.Matches != nil {
		s.Matches = CloneMatches(u.Matches)
	}
	if u.StartTime != nil {
		s.StartTime = *u.StartTime
	}
}

// TotalGoals sums the goals of every match.
func (s *Simulation) TotalGoals() int {
	total := 0
	for _, m := range s.Matches {
		total += m.Goals()
	}
	return total
}

// Clone returns a deep copy so callers can hand snapshots around without
// sharing the matches slice.
func (s *Simulation) Clone() *Simulation {
	if s == nil {
		return nil
	}
	out := *s
	out.Matches = CloneMatches(s.Matches)
	return &out
}

// StateP is a helper for building a SimulationUpdate.
func StateP(state SimulationState) *SimulationState {
	return &state
}
