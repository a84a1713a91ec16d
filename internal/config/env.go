// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/xg2g-player/internal/log"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "XG2G_PLAYER_"

// parseEnv resolves key from the environment with parse, falling back to
// defaultValue when the variable is unset, empty or malformed. The chosen
// source is logged for observability.
func parseEnv[T any](key string, defaultValue T, parse func(string) (T, error), field func(*zerolog.Event, string, T) *zerolog.Event) T {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok {
		field(logger.Debug().Str("key", key), "default", defaultValue).
			Str("source", "default").
			Msg("using default value")
		return defaultValue
	}
	if v == "" {
		field(logger.Debug().Str("key", key), "default", defaultValue).
			Str("source", "default").
			Msg("using default value (environment variable is empty)")
		return defaultValue
	}
	parsed, err := parse(v)
	if err != nil {
		field(logger.Warn().Str("key", key).Str("value", v), "default", defaultValue).
			Err(err).
			Msg("invalid environment variable, using default")
		return defaultValue
	}
	field(logger.Debug().Str("key", key), "value", parsed).
		Str("source", "environment").
		Msg("using environment variable")
	return parsed
}

// ParseString reads a string from environment variable or returns default value.
// Values of sensitive keys are never logged.
func ParseString(key, defaultValue string) string {
	lowerKey := strings.ToLower(key)
	sensitive := strings.Contains(lowerKey, "token") || strings.Contains(lowerKey, "password")
	return parseEnv(key, defaultValue,
		func(s string) (string, error) { return s, nil },
		func(e *zerolog.Event, name, v string) *zerolog.Event {
			if sensitive && name == "value" {
				return e.Bool("sensitive", true)
			}
			return e.Str(name, v)
		})
}

// ParseInt reads an integer from environment variable or returns default value.
func ParseInt(key string, defaultValue int) int {
	return parseEnv(key, defaultValue, strconv.Atoi, (*zerolog.Event).Int)
}

// ParseDuration reads a duration in Go duration format (e.g. "5s").
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	return parseEnv(key, defaultValue, time.ParseDuration, (*zerolog.Event).Dur)
}

// ParseFloat reads a float64 from environment variable or returns default value.
func ParseFloat(key string, defaultValue float64) float64 {
	return parseEnv(key, defaultValue,
		func(s string) (float64, error) { return strconv.ParseFloat(s, 64) },
		(*zerolog.Event).Float64)
}

// ParseBool reads a boolean. It accepts "true", "false", "1", "0", "yes",
// "no" (case-insensitive).
func ParseBool(key string, defaultValue bool) bool {
	return parseEnv(key, defaultValue, parseBool, (*zerolog.Event).Bool)
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no":
		return false, nil
	}
	return false, strconv.ErrSyntax
}

// ParseTriStateEnv reads an auto/on/off option.
func ParseTriStateEnv(key string, defaultValue TriState) TriState {
	return parseEnv(key, defaultValue, ParseTriState,
		func(e *zerolog.Event, name string, v TriState) *zerolog.Event { return e.Stringer(name, v) })
}
