package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// TimestampLayout is the second-resolution layout used on the wire and on disk
const TimestampLayout = "2006-01-02 15:04:05"

// ErrMalformedRecord is returned by ParseRecord for records that are not timestamp,label pairs
var ErrMalformedRecord = errors.New("malformed event record")

// DetectionEvent is one qualifying detection, immutable after creation
type DetectionEvent struct {
	Timestamp  time.Time
	ClassLabel string
}

// NewDetectionEvent truncates the capture instant to whole seconds
func NewDetectionEvent(capturedAt time.Time, label string) DetectionEvent {
	return DetectionEvent{
		Timestamp:  capturedAt.Truncate(time.Second),
		ClassLabel: label,
	}
}

// Batch is the ordered set of events produced by one tick
type Batch []DetectionEvent

// payload is the JSON shape published to the broker
type payload struct {
	Timestamp  string `json:"timestamp"`
	ClassLabel string `json:"class_label"`
}

// Payload encodes the event for the broker
func (e DetectionEvent) Payload() ([]byte, error) {
	return json.Marshal(payload{
		Timestamp:  e.Timestamp.Format(TimestampLayout),
		ClassLabel: e.ClassLabel,
	})
}

// Record returns the flat store fields: timestamp, classLabel
func (e DetectionEvent) Record() []string {
	return []string{e.Timestamp.Format(TimestampLayout), e.ClassLabel}
}

// ParseRecord is the inverse of Record. Timestamps are read in local time.
func ParseRecord(fields []string) (DetectionEvent, error) {
	if len(fields) != 2 || fields[1] == "" {
		return DetectionEvent{}, fmt.Errorf("%w: %d fields", ErrMalformedRecord, len(fields))
	}
	ts, err := time.ParseInLocation(TimestampLayout, fields[0], time.Local)
	if err != nil {
		return DetectionEvent{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return DetectionEvent{Timestamp: ts, ClassLabel: fields[1]}, nil
}

// Equal compares events at record precision
func (e DetectionEvent) Equal(other DetectionEvent) bool {
	return e.Timestamp.Equal(other.Timestamp) && e.ClassLabel == other.ClassLabel
}

func (e DetectionEvent) String() string {
	return fmt.Sprintf("%s %s", e.Timestamp.Format(TimestampLayout), e.ClassLabel)
}
