package logging

import (
	"encoding"
	"log/slog"
	"sort"
	"strings"
)

func Field(key string, value any) slog.Attr {
	return slog.Any(key, value)
}

// fieldMap flattens attrs into a map. Groups become nested maps and empty keys
// are dropped.
func fieldMap(attrs []slog.Attr) map[string]any {
	out := map[string]any{}
	for _, attr := range attrs {
		if attr.Key == "" {
			continue
		}
		v := attr.Value.Resolve()
		if v.Kind() == slog.KindGroup {
			if inner := fieldMap(v.Group()); inner != nil {
				out[attr.Key] = inner
			}
			continue
		}
		out[attr.Key] = v.Any()
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// plainValue converts a field into something encoding/json renders readably.
// Errors and Stringers would otherwise serialize as {}.
func plainValue(value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case error:
		return v.Error()
	case slog.Level:
		return v.String()
	case encoding.TextMarshaler:
		if text, err := v.MarshalText(); err == nil {
			return string(text)
		}
	case interface{ String() string }:
		return v.String()
	}
	return value
}

// isBodyKey marks fields carrying wire bodies. They render after everything
// else so the short fields stay on the header line.
func isBodyKey(key string) bool {
	switch strings.ToLower(key) {
	case "frame", "body", "payload", "response":
		return true
	}
	return false
}

// sortedKeys orders inline fields first, then JSON blocks, then body blocks.
func sortedKeys(fields map[string]any) []string {
	var inline, blocks, bodies []string
	for key, value := range fields {
		_, isBlock := jsonBlock(value)
		switch {
		case !isBlock:
			inline = append(inline, key)
		case isBodyKey(key):
			bodies = append(bodies, key)
		default:
			blocks = append(blocks, key)
		}
	}
	sort.Strings(inline)
	sort.Strings(blocks)
	sort.Strings(bodies)
	return append(append(inline, blocks...), bodies...)
}
