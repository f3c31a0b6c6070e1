package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Match is one fixture of a simulation. Team names never change once the
// roster is built; only the scores move.
type Match struct {
	HomeName  string `json:"home_name" msgpack:"home_name"`
	HomeScore int    `json:"home_score" msgpack:"home_score"`
	AwayName  string `json:"away_name" msgpack:"away_name"`
	AwayScore int    `json:"away_score" msgpack:"away_score"`
}

// Goals is the combined score of both sides.
func (m Match) Goals() int {
	return m.HomeScore + m.AwayScore
}

// CloneMatches returns an independent copy of matches.
func CloneMatches(matches []Match) []Match {
	if matches == nil {
		return nil
	}
	out := make([]Match, len(matches))
	copy(out, matches)
	return out
}

// MatchList is stored as a single JSON column.
type MatchList []Match

// Value implements driver.Valuer.
func (l MatchList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	buf, err := json.Marshal([]Match(l))
	if err != nil {
		return nil, err
	}
	return string(buf), nil
}

// Scan implements sql.Scanner.
func (l *MatchList) Scan(src any) error {
	var buf []byte
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		buf = v
	case string:
		buf = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into MatchList", src)
	}
	var matches []Match
	if err := json.Unmarshal(buf, &matches); err != nil {
		return fmt.Errorf("failed to decode matches: %w", err)
	}
	*l = matches
	return nil
}
