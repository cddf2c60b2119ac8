package signal

import "strings"

// Level is the closed severity enumeration. Historical data uses both
// "warn" and "warning"; ParseLevel folds them into LevelWarn. Anything
// else is quarantined as LevelUnknown rather than silently joining the
// priority order.
type Level string

const (
	LevelCritical Level = "critical"
	LevelRisk     Level = "risk"
	LevelWarn     Level = "warn"
	LevelInfo     Level = "info"
	LevelUnknown  Level = "unknown"
)

func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return LevelCritical
	case "risk":
		return LevelRisk
	case "warn", "warning":
		return LevelWarn
	case "info":
		return LevelInfo
	default:
		return LevelUnknown
	}
}

// Priority orders levels for ranking; lower is more severe. Unknown levels
// sort after every recognized one.
func (l Level) Priority() int {
	switch l {
	case LevelCritical:
		return 0
	case LevelRisk:
		return 1
	case LevelWarn:
		return 2
	case LevelInfo:
		return 3
	default:
		return 4
	}
}

func (l Level) Known() bool {
	return l != LevelUnknown
}

func (l Level) String() string {
	return string(l)
}
