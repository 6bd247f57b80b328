// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"strconv"
	"time"
)

// ParseString returns the env value for key, or fallback when unset.
func ParseString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

// ParseBool parses a boolean env value; unset keeps fallback.
func ParseBool(key string, fallback bool) (bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback, &KeyError{Key: key, Value: v, Reason: "not a boolean"}
	}
	return b, nil
}

// ParseInt parses an integer env value; unset keeps fallback.
func ParseInt(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback, &KeyError{Key: key, Value: v, Reason: "not an integer"}
	}
	return n, nil
}

// ParseInt64 parses a 64-bit integer env value; unset keeps fallback.
func ParseInt64(key string, fallback int64) (int64, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback, &KeyError{Key: key, Value: v, Reason: "not an integer"}
	}
	return n, nil
}

// ParseDuration parses a Go duration env value; unset keeps fallback.
func ParseDuration(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback, &KeyError{Key: key, Value: v, Reason: "not a duration"}
	}
	return d, nil
}
