package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titleCaser = cases.Title(language.English)

func parseID(arg, label string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s id %q", label, arg)
	}
	return id, nil
}

// statusLabel renders snake_case states as "Writing In Progress".
func statusLabel(status string) string {
	status = strings.TrimSpace(status)
	if status == "" {
		return "-"
	}
	return titleCaser.String(strings.ReplaceAll(status, "_", " "))
}

func formatScore(score *float64) string {
	if score == nil {
		return "-"
	}
	return strconv.FormatFloat(*score, 'f', 1, 64)
}

func formatPrice(price float64) string {
	return "$" + strconv.FormatFloat(price, 'f', 2, 64)
}

func formatCount(n int) string {
	return humanize.Comma(int64(n))
}

// formatWhen renders an RFC 3339 timestamp relative to now ("3 hours ago").
func formatWhen(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "-"
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return value
	}
	return humanize.Time(ts)
}

func progressBar(percent, width int) string {
	if width <= 0 {
		width = 20
	}
	percent = max(0, min(100, percent))
	filled := percent * width / 100
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + "] " + strconv.Itoa(percent) + "%"
}
