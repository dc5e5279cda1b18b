package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"epp-monitor/internal/domain/epp"
)

var DefaultEnvelopeKeys = []string{"data", "alertas", "detecciones", "items", "results"}

var invalidLiterals = []string{"undefined", "None", "NaN"}

var (
	timestampKeys = []string{"timestamp", "ts", "datetime"}
	fechaKeys     = []string{"fecha", "date", "dia"}
	canalKeys     = []string{"canal", "channel", "camera", "camara"}
	detectedKeys  = []string{"detected", "detectados", "detecciones"}
	missingKeys   = []string{"missing", "faltantes"}
	imageKeys     = []string{"image", "imagen", "image_path", "image_url"}
)

// Decode validates a raw feed body and returns its records.
// Elements that are not JSON objects are skipped; field-level problems are tolerated.
func Decode(body []byte, envelopeKeys []string) ([]epp.DetectionEvent, error) {
	items, err := decodeArray(body, envelopeKeys)
	if err != nil {
		return nil, err
	}

	events := make([]epp.DetectionEvent, 0, len(items))
	for _, item := range items {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(item, &fields); err != nil || fields == nil {
			continue
		}
		events = append(events, epp.DetectionEvent{
			Timestamp: stringField(fields, timestampKeys),
			Fecha:     stringField(fields, fechaKeys),
			Canal:     stringField(fields, canalKeys),
			Detected:  tagField(fields, detectedKeys),
			Missing:   tagField(fields, missingKeys),
			Image:     stringField(fields, imageKeys),
		})
	}
	return events, nil
}

// DecodeStrings parses endpoints that return a list of strings (days, frame paths).
func DecodeStrings(body []byte, envelopeKeys []string) ([]string, error) {
	items, err := decodeArray(body, envelopeKeys)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err != nil {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

func decodeArray(body []byte, envelopeKeys []string) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrParse)
	}
	if trimmed[0] == '<' {
		return nil, fmt.Errorf("%w: html document", ErrParse)
	}
	for _, lit := range invalidLiterals {
		if string(trimmed) == lit {
			return nil, fmt.Errorf("%w: literal %q", ErrParse, lit)
		}
	}

	var root json.RawMessage
	if err := json.Unmarshal(trimmed, &root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	switch trimmed[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(root, &items); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSchema, err)
		}
		return items, nil
	case '{':
		return unwrapEnvelope(root, envelopeKeys)
	default:
		return nil, fmt.Errorf("%w: expected array, got %s", ErrSchema, jsonKind(trimmed[0]))
	}
}

func unwrapEnvelope(root json.RawMessage, envelopeKeys []string) ([]json.RawMessage, error) {
	if envelopeKeys == nil {
		envelopeKeys = DefaultEnvelopeKeys
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(root, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	for _, key := range envelopeKeys {
		raw, ok := obj[key]
		if !ok {
			continue
		}
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 || raw[0] != '[' {
			continue
		}
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("%w: envelope %q: %v", ErrSchema, key, err)
		}
		return items, nil
	}
	return nil, fmt.Errorf("%w: object without a known array envelope", ErrSchema)
}

func jsonKind(first byte) string {
	switch first {
	case '"':
		return "string"
	case 'n':
		return "null"
	case 't', 'f':
		return "boolean"
	default:
		return "number"
	}
}

func stringField(fields map[string]json.RawMessage, keys []string) string {
	for _, key := range keys {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

func tagField(fields map[string]json.RawMessage, keys []string) []string {
	for _, key := range keys {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 || string(raw) == "null" {
			continue
		}
		if raw[0] == '"' {
			var s string
			if err := json.Unmarshal(raw, &s); err == nil && strings.TrimSpace(s) != "" {
				return []string{s}
			}
			continue
		}
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			continue
		}
		tags := make([]string, 0, len(items))
		for _, item := range items {
			var s string
			if err := json.Unmarshal(item, &s); err == nil && s != "" {
				tags = append(tags, s)
			}
		}
		return tags
	}
	return nil
}
