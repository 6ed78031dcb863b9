package main

import (
	"errors"
	"strconv"
	"strings"
)

var errNoInput = errors.New("sayproxy: provide either text as an argument or --content <path>")

// parseOptions turns "key=value" flag strings into a provider options map.
// Values are parsed as bool, then int64/float64, falling back to string;
// each provider's own ValidateOptions call does the authoritative type and
// range check against its schema (distilled §4.3).
func parseOptions(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, errors.New("sayproxy: --opt must be key=value, got " + pair)
		}
		out[key] = parseOptionValue(value)
	}
	return out, nil
}

func parseOptionValue(raw string) any {
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}
