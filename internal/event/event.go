// Package event defines the ingestion trigger and its notification envelopes.
package event

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Source identifies which envelope shape produced an event.
type Source string

const (
	SourceStorageNotification Source = "storage-notification"
	SourceGenericEvent        Source = "generic-event"
	SourceWatcher             Source = "watcher"
)

// ErrUnsupportedEnvelope is returned when a notification matches neither
// known envelope shape.
var ErrUnsupportedEnvelope = errors.New("event: unsupported notification envelope")

// IngestionEvent is the immutable trigger for one pipeline execution.
// It is constructed once at trigger time and consumed once by the
// orchestrator.
type IngestionEvent struct {
	ID         string
	Bucket     string
	Key        string
	Source     Source
	ReceivedAt time.Time
}

// storageNotification is the direct storage-created shape:
// {"Records":[{"s3":{"bucket":{"name":...},"object":{"key":...}}}]}
type storageNotification struct {
	Records []struct {
		S3 struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key string `json:"key"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

// genericEnvelope is the event-bus wrapper shape:
// {"detail":{"bucket":{"name":...},"object":{"key":...}}}
type genericEnvelope struct {
	Detail struct {
		Bucket struct {
			Name string `json:"name"`
		} `json:"bucket"`
		Object struct {
			Key string `json:"key"`
		} `json:"object"`
	} `json:"detail"`
}

// ParseNotification accepts either notification shape and returns the
// ingestion event it describes.
func ParseNotification(raw []byte) (IngestionEvent, error) {
	var direct storageNotification
	if err := json.Unmarshal(raw, &direct); err == nil && len(direct.Records) > 0 {
		rec := direct.Records[0]
		if rec.S3.Object.Key != "" {
			return newEvent(rec.S3.Bucket.Name, rec.S3.Object.Key, SourceStorageNotification), nil
		}
	}

	var wrapped genericEnvelope
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Detail.Object.Key != "" {
		return newEvent(wrapped.Detail.Bucket.Name, wrapped.Detail.Object.Key, SourceGenericEvent), nil
	}

	return IngestionEvent{}, ErrUnsupportedEnvelope
}

// New constructs an event for an object discovered by the watcher.
func New(bucket, key string) IngestionEvent {
	return newEvent(bucket, key, SourceWatcher)
}

func newEvent(bucket, key string, src Source) IngestionEvent {
	return IngestionEvent{
		ID:         uuid.NewString(),
		Bucket:     bucket,
		Key:        key,
		Source:     src,
		ReceivedAt: time.Now().UTC(),
	}
}
