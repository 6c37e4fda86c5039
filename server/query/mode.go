package query

import (
	"strings"

	"github.com/gear6io/gharp/pkg/errors"
)

// Mode selects how a term is matched against a column
type Mode string

const (
	ModeContains   Mode = "contains"
	ModeExact      Mode = "exact"
	ModeStartsWith Mode = "starts_with"
	ModeEndsWith   Mode = "ends_with"
	ModeRegex      Mode = "regex"
)

// DefaultMode is used when a request names no mode
const DefaultMode = ModeContains

// Modes lists every supported mode in display order
var Modes = []Mode{ModeContains, ModeExact, ModeStartsWith, ModeEndsWith, ModeRegex}

var modeAliases = map[string]Mode{
	"contains":    ModeContains,
	"exact":       ModeExact,
	"exact match": ModeExact,
	"starts_with": ModeStartsWith,
	"starts with": ModeStartsWith,
	"startswith":  ModeStartsWith,
	"prefix":      ModeStartsWith,
	"ends_with":   ModeEndsWith,
	"ends with":   ModeEndsWith,
	"endswith":    ModeEndsWith,
	"suffix":      ModeEndsWith,
	"regex":       ModeRegex,
	"regexp":      ModeRegex,
}

// ParseMode accepts canonical names and the labels shown in the UI
// ("Exact match", "Starts with", ...). An empty string yields DefaultMode.
func ParseMode(s string) (Mode, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if key == "" {
		return DefaultMode, nil
	}
	if m, ok := modeAliases[key]; ok {
		return m, nil
	}
	return "", errors.New(ErrInvalidMode, "unknown match mode", nil).AddContext("mode", s)
}

// Valid reports whether m is one of the supported modes
func (m Mode) Valid() bool {
	switch m {
	case ModeContains, ModeExact, ModeStartsWith, ModeEndsWith, ModeRegex:
		return true
	}
	return false
}

// CaseSensitive reports whether the mode distinguishes letter case
func (m Mode) CaseSensitive() bool {
	return m == ModeExact
}

func (m Mode) String() string {
	return string(m)
}
