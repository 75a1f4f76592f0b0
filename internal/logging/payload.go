package logging

import (
	"bytes"
	"encoding"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

const clipLimit = 240

// Truncate flattens value to one line and clips it for log output.
func Truncate(value string) string {
	value = strings.Join(strings.Fields(value), " ")
	if value == "" {
		return "<empty>"
	}
	if len(value) > clipLimit {
		return value[:clipLimit] + "..."
	}
	return value
}

// Payload renders an HTTP response or frame body for log output. JSON bodies,
// including a JSON string wrapping a JSON document, are re-indented. Anything
// else is clipped to one line.
func Payload(raw []byte) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "<empty>"
	}
	var quoted string
	if json.Unmarshal(trimmed, &quoted) == nil {
		trimmed = []byte(strings.TrimSpace(quoted))
	}
	var decoded any
	if json.Unmarshal(trimmed, &decoded) == nil {
		if out, err := indentJSON(decoded); err == nil {
			return out
		}
	}
	return Truncate(string(trimmed))
}

func indentJSON(value any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(value); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

// jsonBlock reports whether value should print as an indented JSON block: a
// map, slice or struct, or a string or byte slice holding a JSON object or
// array. Text that merely contains JSON somewhere stays inline.
func jsonBlock(value any) (string, bool) {
	switch v := value.(type) {
	case nil:
		return "", false
	case error:
		return jsonBlock(v.Error())
	case json.RawMessage:
		return jsonBlock([]byte(v))
	case []byte:
		return jsonBlock(string(v))
	case string:
		var decoded any
		if json.Unmarshal([]byte(strings.TrimSpace(v)), &decoded) != nil {
			return "", false
		}
		switch decoded.(type) {
		case map[string]any, []any:
			out, err := indentJSON(decoded)
			return out, err == nil
		}
		return "", false
	case encoding.TextMarshaler, fmt.Stringer:
		return "", false
	}
	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return "", false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		out, err := indentJSON(rv.Interface())
		return out, err == nil
	}
	return "", false
}

func inlineValue(value any) string {
	if value == nil {
		return "<nil>"
	}
	if out, ok := jsonBlock(value); ok {
		return out
	}
	return fmt.Sprint(plainValue(value))
}

// FormatEventLine renders event as a single uncolored terminal line.
func FormatEventLine(event Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] %s", event.Time.Format("15:04:05"), strings.ToUpper(event.Level.String()), event.Message)
	for _, key := range sortedKeys(event.Fields) {
		fmt.Fprintf(&b, " %s=%s", key, inlineValue(event.Fields[key]))
	}
	b.WriteByte('\n')
	return b.String()
}
