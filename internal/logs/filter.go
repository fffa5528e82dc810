package logs

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Entry is one decoded line of the daemon's JSON log.
type Entry struct {
	Time      string
	Level     string
	Message   string
	Component string
	BookID    int64
	Fields    map[string]any
}

// ParseEntry decodes a JSON log line. Non-JSON lines report false.
func ParseEntry(line string) (Entry, bool) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return Entry{}, false
	}
	entry := Entry{Fields: make(map[string]any, len(raw))}
	for key, value := range raw {
		switch key {
		case "ts":
			entry.Time, _ = value.(string)
		case "level":
			entry.Level, _ = value.(string)
		case "msg":
			entry.Message, _ = value.(string)
		case "component":
			entry.Component, _ = value.(string)
		case "book_id":
			if f, ok := value.(float64); ok {
				entry.BookID = int64(f)
			}
			entry.Fields[key] = value
		default:
			entry.Fields[key] = value
		}
	}
	return entry, true
}

var levelRank = map[string]int{"debug": 0, "info": 1, "warn": 2, "error": 3}

// Filter narrows tailed lines. The zero value matches everything.
type Filter struct {
	// MinLevel drops entries below this level.
	MinLevel  string
	Component string
	BookID    int64
	Search    string
}

func (f Filter) empty() bool {
	return f.MinLevel == "" && f.Component == "" && f.BookID == 0 && f.Search == ""
}

// Match reports whether line passes the filter. Lines that are not JSON only
// pass an empty or search-only filter.
func (f Filter) Match(line string) bool {
	if f.empty() {
		return true
	}
	if f.Search != "" && !strings.Contains(strings.ToLower(line), strings.ToLower(f.Search)) {
		return false
	}
	if f.MinLevel == "" && f.Component == "" && f.BookID == 0 {
		return true
	}
	entry, ok := ParseEntry(line)
	if !ok {
		return false
	}
	if f.MinLevel != "" {
		want, known := levelRank[strings.ToLower(f.MinLevel)]
		if got, ok := levelRank[entry.Level]; known && ok && got < want {
			return false
		}
	}
	if f.Component != "" && !strings.EqualFold(entry.Component, f.Component) {
		return false
	}
	if f.BookID != 0 && entry.BookID != f.BookID {
		return false
	}
	return true
}

// Format renders a JSON log line for terminal output. Other lines are
// returned unchanged.
func Format(line string) string {
	entry, ok := ParseEntry(line)
	if !ok {
		return line
	}
	var b strings.Builder
	if entry.Time != "" {
		b.WriteString(entry.Time)
		b.WriteByte(' ')
	}
	fmt.Fprintf(&b, "%-5s", strings.ToUpper(entry.Level))
	if entry.Component != "" {
		fmt.Fprintf(&b, " [%s]", entry.Component)
	}
	b.WriteByte(' ')
	b.WriteString(entry.Message)

	keys := make([]string, 0, len(entry.Fields))
	for key := range entry.Fields {
		if key == "source" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(&b, " %s=%v", key, entry.Fields[key])
	}
	return b.String()
}
