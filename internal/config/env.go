package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// loader reads environment variables and collects every missing or
// malformed key so Load can report them all at once.
type loader struct {
	lookup  func(string) (string, bool)
	missing []string
	invalid []string
}

func newLoader(lookup func(string) (string, bool)) *loader {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return &loader{lookup: lookup}
}

func (l *loader) get(k string) string {
	v, ok := l.lookup(k)
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}

// must retrieves a required variable.
func (l *loader) must(k string) string {
	v := l.get(k)
	if v == "" {
		l.missing = append(l.missing, k)
	}
	return v
}

func (l *loader) envStr(k, d string) string {
	if v := l.get(k); v != "" {
		return v
	}
	return d
}

// envFirst returns the first non-empty variable of keys, or d.
func (l *loader) envFirst(d string, keys ...string) string {
	for _, k := range keys {
		if v := l.get(k); v != "" {
			return v
		}
	}
	return d
}

func (l *loader) envBool(k string, d bool) bool {
	v := l.get(k)
	if v == "" {
		return d
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	l.invalid = append(l.invalid, fmt.Sprintf("%s=%q (want bool)", k, v))
	return d
}

func (l *loader) envInt(k string, d int) int {
	v := l.get(k)
	if v == "" {
		return d
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		l.invalid = append(l.invalid, fmt.Sprintf("%s=%q (want int)", k, v))
		return d
	}
	return n
}

func (l *loader) envDur(k string, d time.Duration) time.Duration {
	v := l.get(k)
	if v == "" {
		return d
	}
	dur, err := time.ParseDuration(v)
	if err != nil {
		l.invalid = append(l.invalid, fmt.Sprintf("%s=%q (want duration)", k, v))
		return d
	}
	return dur
}

// positive records k as invalid when v is not above zero.
func (l *loader) positive(k string, v int64) {
	if v <= 0 {
		l.invalid = append(l.invalid, fmt.Sprintf("%s must be > 0", k))
	}
}

func (l *loader) err() error {
	var parts []string
	if len(l.missing) > 0 {
		parts = append(parts, "missing required env vars: "+strings.Join(l.missing, ", "))
	}
	if len(l.invalid) > 0 {
		parts = append(parts, "invalid env vars: "+strings.Join(l.invalid, "; "))
	}
	if len(parts) == 0 {
		return nil
	}
	return fmt.Errorf("config: %s", strings.Join(parts, "; "))
}
