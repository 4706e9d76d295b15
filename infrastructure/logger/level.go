package logger

import "strings"

// Level is the level at which a logger is configured. All messages sent
// to a level which is below the current level are filtered.
type Level uint32

// Level constants.
const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelCritical
	LevelOff
)

// levelTags are the tags written in log lines, indexed by Level
var levelTags = [...]string{"TRC", "DBG", "INF", "WRN", "ERR", "CRT", "OFF"}

var levelNames = map[string]Level{
	"trace":    LevelTrace,
	"debug":    LevelDebug,
	"info":     LevelInfo,
	"warn":     LevelWarn,
	"error":    LevelError,
	"critical": LevelCritical,
	"off":      LevelOff,
}

// LevelFromString returns the level named s. Both full names ("debug") and
// tags ("dbg") are accepted, in any case. If s names no level, the info
// level and false are returned.
func LevelFromString(s string) (l Level, ok bool) {
	s = strings.ToLower(s)
	if level, ok := levelNames[s]; ok {
		return level, true
	}
	for level, tag := range levelTags {
		if strings.ToLower(tag) == s {
			return Level(level), true
		}
	}
	return LevelInfo, false
}

// String returns the tag of the level used in log messages, or "OFF" if
// the level will not produce any log output.
func (l Level) String() string {
	if l >= LevelOff {
		return "OFF"
	}
	return levelTags[l]
}
