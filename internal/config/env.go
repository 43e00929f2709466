package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// parsed reads key with parse, falling back to def when the variable is unset.
// Unparseable values are logged and ignored.
func parsed[T any](key string, def T, parse func(string) (T, error)) T {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return def
	}
	v, err := parse(strings.TrimSpace(raw))
	if err != nil {
		slog.Warn("Ignoring invalid environment value", "key", key, "value", raw, "error", err)
		return def
	}
	return v
}

// GetEnv returns the value of key or def when unset.
func GetEnv(key, def string) string {
	return parsed(key, def, func(s string) (string, error) { return s, nil })
}

func GetIntEnv(key string, def int) int {
	return parsed(key, def, strconv.Atoi)
}

func GetFloatEnv(key string, def float64) float64 {
	return parsed(key, def, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
}

// GetDurationEnv parses Go duration syntax such as "90s" or "2m".
func GetDurationEnv(key string, def time.Duration) time.Duration {
	return parsed(key, def, time.ParseDuration)
}

// GetListEnv splits a comma-separated value, dropping blank items.
func GetListEnv(key string, def []string) []string {
	return parsed(key, def, func(s string) ([]string, error) {
		var items []string
		for item := range strings.SplitSeq(s, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		return items, nil
	})
}

// GetSecretFile returns the trimmed contents of a mounted secret, or "" when
// path is empty or unreadable.
func GetSecretFile(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("Secret file unreadable", "path", path, "error", err)
		return ""
	}
	return strings.TrimSpace(string(data))
}
