package event

import (
	"errors"
	"testing"
)

func TestParseNotificationStorageShape(t *testing.T) {
	raw := []byte(`{
		"Records": [
			{"s3": {"bucket": {"name": "staging"}, "object": {"key": "in/1.json"}}}
		]
	}`)

	evt, err := ParseNotification(raw)
	if err != nil {
		t.Fatalf("ParseNotification failed: %v", err)
	}
	if evt.Bucket != "staging" || evt.Key != "in/1.json" {
		t.Errorf("unexpected event: %+v", evt)
	}
	if evt.Source != SourceStorageNotification {
		t.Errorf("source = %s, want %s", evt.Source, SourceStorageNotification)
	}
	if evt.ID == "" {
		t.Error("event ID should be set")
	}
}

func TestParseNotificationGenericShape(t *testing.T) {
	raw := []byte(`{
		"detail": {"bucket": {"name": "staging"}, "object": {"key": "in/2.json"}}
	}`)

	evt, err := ParseNotification(raw)
	if err != nil {
		t.Fatalf("ParseNotification failed: %v", err)
	}
	if evt.Key != "in/2.json" {
		t.Errorf("key = %s, want in/2.json", evt.Key)
	}
	if evt.Source != SourceGenericEvent {
		t.Errorf("source = %s, want %s", evt.Source, SourceGenericEvent)
	}
}

func TestParseNotificationUnsupported(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"empty object", `{}`},
		{"records without key", `{"Records":[{"s3":{}}]}`},
		{"not json", `not json`},
		{"unrelated shape", `{"body": "hello"}`},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseNotification([]byte(tt.raw))
			if !errors.Is(err, ErrUnsupportedEnvelope) {
				t.Errorf("err = %v, want ErrUnsupportedEnvelope", err)
			}
		})
	}
}

func TestNewEventIDsUnique(t *testing.T) {
	a := New("staging", "in/1.json")
	b := New("staging", "in/1.json")
	if a.ID == b.ID {
		t.Error("two events for the same key should have distinct IDs")
	}
}
