// Package swimtime converts swim result strings into seconds and tracks the
// best time per event.
package swimtime

import (
	"math"
	"strconv"
	"strings"
)

// BestTime pairs the displayed time string with its value in seconds.
type BestTime struct {
	Time    string  `json:"time"`
	Seconds float64 `json:"seconds"`
}

// Seconds converts "M:SS.hh", "SS.hh" or a plain number of seconds.
//
// The part after the last '.' is read as hundredths (its integer value is
// divided by 100), so "1:02.5" is 62.05 and a three digit fraction such as
// "58.123" becomes 59.23. Unparseable input reports false.
func Seconds(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, false
	}
	minutes := 0.0
	if strings.Contains(s, ":") {
		parts := strings.Split(s, ":")
		if len(parts) != 2 {
			return 0, false
		}
		m, ok := number(parts[0])
		if !ok {
			return 0, false
		}
		minutes, s = m, parts[1]
	}
	secs, ok := clock(s)
	if !ok {
		return 0, false
	}
	return minutes*60 + secs, true
}

func clock(s string) (float64, bool) {
	if !strings.Contains(s, ".") {
		return number(s)
	}
	parts := strings.Split(s, ".")
	if len(parts) != 2 {
		return 0, false
	}
	whole, ok := number(parts[0])
	if !ok {
		return 0, false
	}
	frac, ok := number(parts[1])
	if !ok {
		return 0, false
	}
	return whole + frac/100, true
}

func number(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, false
	}
	return v, true
}

// Record keeps the fastest time seen for event. An existing faster time is
// never replaced by a slower one, and an unparseable time only fills an empty
// slot. It reports whether times changed.
func Record(times map[string]BestTime, event, raw string) bool {
	event = strings.TrimSpace(event)
	raw = strings.TrimSpace(raw)
	if event == "" || raw == "" {
		return false
	}
	secs, ok := Seconds(raw)
	current, exists := times[event]
	if !exists {
		times[event] = BestTime{Time: raw, Seconds: secs}
		return true
	}
	if !ok {
		return false
	}
	if _, currentOK := Seconds(current.Time); currentOK && current.Seconds <= secs {
		return false
	}
	times[event] = BestTime{Time: raw, Seconds: secs}
	return true
}

var strokes = map[string]string{
	"FREE":   "FREE",
	"FR":     "FREE",
	"BACK":   "BACK",
	"BK":     "BACK",
	"BREAST": "BREAST",
	"BR":     "BREAST",
	"FLY":    "FLY",
	"FL":     "FLY",
	"IM":     "IM",
}

// EventKey normalizes an event label such as "50 Y Free" or "100 yd back"
// into "50 Y FREE". Labels that do not start with a distance are returned
// upper-cased with collapsed whitespace.
func EventKey(event string) string {
	fields := strings.Fields(strings.ToUpper(event))
	if len(fields) < 3 {
		return strings.Join(fields, " ")
	}
	if _, err := strconv.Atoi(fields[0]); err != nil {
		return strings.Join(fields, " ")
	}
	stroke := strings.Join(fields[2:], " ")
	if canonical, ok := strokes[stroke]; ok {
		stroke = canonical
	}
	return fields[0] + " " + fields[1][:1] + " " + stroke
}

// Normalize merges times under their EventKey, keeping the fastest per key.
func Normalize(times map[string]BestTime) map[string]BestTime {
	out := make(map[string]BestTime, len(times))
	for event, bt := range times {
		Record(out, EventKey(event), bt.Time)
	}
	return out
}
