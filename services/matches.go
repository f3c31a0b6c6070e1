// services/matches.go
package services

import (
	"math/rand/v2"
	"sync"

	"fms-api/models"
)

// defaultRoster is the fixed set of fixtures every simulation starts with.
var defaultRoster = [models.MatchesPerSimulation][2]string{
	{"Germany", "Poland"},
	{"Brazil", "Mexico"},
	{"Argentina", "Uruguay"},
}

// MatchGenerator builds rosters and scoring events. The random source is
// guarded so a generator can be shared between ticks and request handlers.
type MatchGenerator struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewMatchGenerator returns a generator backed by src. A nil src seeds from
// the runtime's random source.
func NewMatchGenerator(src rand.Source) *MatchGenerator {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &MatchGenerator{rnd: rand.New(src)}
}

var defaultGenerator = NewMatchGenerator(nil)

// DefaultMatches returns the starting roster with all scores at zero. Every
// call returns a new slice.
func DefaultMatches() []models.Match {
	matches := make([]models.Match, 0, len(defaultRoster))
	for _, pair := range defaultRoster {
		matches = append(matches, models.Match{
			HomeName: pair[0],
			AwayName: pair[1],
		})
	}
	return matches
}

// ScoreOneGoal scores a random goal using the process-wide generator.
func ScoreOneGoal(matches []models.Match) []models.Match {
	return defaultGenerator.ScoreOneGoal(matches)
}

// DefaultMatches is exposed on the generator so the scheduler depends on a
// single value.
func (g *MatchGenerator) DefaultMatches() []models.Match {
	return DefaultMatches()
}

// ScoreOneGoal picks one match and one side uniformly at random and returns
// a copy of matches with that side's score increased by one. The input is
// never modified. An empty input yields an empty copy.
func (g *MatchGenerator) ScoreOneGoal(matches []models.Match) []models.Match {
	out := models.CloneMatches(matches)
	if len(out) == 0 {
		return out
	}

	g.mu.Lock()
	idx := g.rnd.IntN(len(out))
	home := g.rnd.IntN(2) == 0
	g.mu.Unlock()

	if home {
		out[idx].HomeScore++
	} else {
		out[idx].AwayScore++
	}
	return out
}
