package feed

import (
	"errors"
	"reflect"
	"testing"
)

func TestDecodeRejectsMalformedPayloads(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr error
	}{
		{name: "empty body", body: "", wantErr: ErrParse},
		{name: "whitespace", body: "  \n", wantErr: ErrParse},
		{name: "undefined literal", body: "undefined", wantErr: ErrParse},
		{name: "python none", body: "None", wantErr: ErrParse},
		{name: "html error page", body: "<html><body>502 Bad Gateway</body></html>", wantErr: ErrParse},
		{name: "truncated json", body: `[{"timestamp":"2024-06-01T10:00:00"`, wantErr: ErrParse},
		{name: "null", body: "null", wantErr: ErrSchema},
		{name: "string", body: `"ok"`, wantErr: ErrSchema},
		{name: "number", body: "42", wantErr: ErrSchema},
		{name: "object without envelope", body: `{"status":"ok"}`, wantErr: ErrSchema},
		{name: "envelope not array", body: `{"data":{"x":1}}`, wantErr: ErrSchema},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := Decode([]byte(tt.body), nil)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Decode(%q) error = %v, want %v", tt.body, err, tt.wantErr)
			}
			if events != nil {
				t.Fatalf("expected no events on failure, got %v", events)
			}
		})
	}
}

func TestDecodeEnvelopes(t *testing.T) {
	record := `{"timestamp":"2024-06-01T10:00:00","canal":"Channel1","detected":["with_helmet"],"missing":[]}`
	bodies := map[string]string{
		"bare array":       "[" + record + "]",
		"data envelope":    `{"data":[` + record + `]}`,
		"alertas envelope": `{"ok":true,"alertas":[` + record + `]}`,
	}

	want := []string{"with_helmet"}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			events, err := Decode([]byte(body), nil)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(events) != 1 {
				t.Fatalf("expected 1 event, got %d", len(events))
			}
			if events[0].Canal != "Channel1" || !reflect.DeepEqual(events[0].Detected, want) {
				t.Fatalf("unexpected event %+v", events[0])
			}
		})
	}
}

func TestDecodeCustomEnvelopeKeys(t *testing.T) {
	body := `{"payload":[{"fecha":"2024-06-01"}]}`
	if _, err := Decode([]byte(body), nil); !errors.Is(err, ErrSchema) {
		t.Fatalf("expected schema error with default keys, got %v", err)
	}
	events, err := Decode([]byte(body), []string{"payload"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 || events[0].Fecha != "2024-06-01" {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestDecodeFieldAliasesAndLeniency(t *testing.T) {
	body := `[
		{"fecha":"2024-06-01","channel":"Channel2","detectados":"with_helmet","faltantes":["without_vest", 3, null],"imagen":"/app/static/a.jpg"},
		{"timestamp":12345,"missing":null,"detected":{"x":1}},
		42,
		"text",
		null
	]`

	events, err := Decode([]byte(body), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 object records, got %d", len(events))
	}

	first := events[0]
	if first.Fecha != "2024-06-01" || first.Canal != "Channel2" || first.Image != "/app/static/a.jpg" {
		t.Fatalf("aliases not applied: %+v", first)
	}
	if !reflect.DeepEqual(first.Detected, []string{"with_helmet"}) {
		t.Fatalf("single string tag not accepted: %v", first.Detected)
	}
	if !reflect.DeepEqual(first.Missing, []string{"without_vest"}) {
		t.Fatalf("non-string tags not skipped: %v", first.Missing)
	}

	second := events[1]
	if second.Timestamp != "" || second.Missing != nil || second.Detected != nil {
		t.Fatalf("wrongly typed fields should be empty: %+v", second)
	}
}

func TestDecodeStrings(t *testing.T) {
	days, err := DecodeStrings([]byte(`["2024-06-01", 7, " ", "2024-06-02"]`), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(days, []string{"2024-06-01", "2024-06-02"}) {
		t.Fatalf("unexpected days %v", days)
	}
}

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{&NetworkError{Op: "fetch feed", URL: "http://x", Status: 500}, "network"},
		{ErrParse, "parse"},
		{ErrSchema, "schema"},
		{errors.New("boom"), "other"},
	}
	for _, tt := range tests {
		if got := Kind(tt.err); got != tt.want {
			t.Errorf("Kind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
