package core

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Transform turns a raw payload value into a field value. It reports false
// when the value should not count as a match.
type Transform func(value any) (string, bool)

// ExtractionRule reads the value at Path and applies Transform.
type ExtractionRule struct {
	Path      []string
	Transform Transform
}

// FieldExtractor applies its rules in order; the first match wins.
type FieldExtractor []ExtractionRule

func (f FieldExtractor) Extract(payload map[string]any) (string, bool) {
	for _, rule := range f {
		value, ok := lookupPath(payload, rule.Path)
		if !ok {
			continue
		}
		transform := rule.Transform
		if transform == nil {
			transform = ScalarString
		}
		if out, ok := transform(value); ok {
			return out, true
		}
	}
	return "", false
}

func Rule(transform Transform, path ...string) ExtractionRule {
	return ExtractionRule{Path: append([]string(nil), path...), Transform: transform}
}

// ScalarString matches non-empty strings and numbers.
func ScalarString(value any) (string, bool) {
	switch typed := value.(type) {
	case string:
		if typed == "" {
			return "", false
		}
		return typed, true
	case float64:
		if typed == 0 {
			return "", false
		}
		return strconv.FormatFloat(typed, 'f', -1, 64), true
	case int:
		if typed == 0 {
			return "", false
		}
		return strconv.Itoa(typed), true
	case int64:
		if typed == 0 {
			return "", false
		}
		return strconv.FormatInt(typed, 10), true
	default:
		return "", false
	}
}

// FirstOfList matches a scalar directly, or the first element of a non-empty
// list.
func FirstOfList(value any) (string, bool) {
	if list, ok := value.([]any); ok {
		if len(list) == 0 {
			return "", false
		}
		first, ok := ScalarString(list[0])
		if !ok {
			return "", true
		}
		return first, true
	}
	if list, ok := value.([]string); ok {
		if len(list) == 0 {
			return "", false
		}
		return list[0], true
	}
	return ScalarString(value)
}

var (
	EventIDRules = FieldExtractor{
		Rule(ScalarString, "id"),
	}
	EventTypeRules = FieldExtractor{
		Rule(ScalarString, "type"),
	}
	EmailRules = FieldExtractor{
		Rule(FirstOfList, "data", "to"),
		Rule(FirstOfList, "data", "email"),
		Rule(FirstOfList, "data", "recipient"),
	}
	MessageIDRules = FieldExtractor{
		Rule(ScalarString, "data", "email_id"),
		Rule(ScalarString, "data", "message_id"),
		Rule(ScalarString, "data", "id"),
	}
	timestampPaths = [][]string{{"created_at"}, {"timestamp"}}
)

// isoLayouts covers RFC 3339 plus the looser ISO-8601 forms providers send
// (space separator, missing zone, hour-only offsets).
var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999Z07",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z0700",
	"2006-01-02 15:04:05.999999999Z07",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// ExtractTimestamp resolves the provider timestamp from created_at, then
// timestamp. ISO-8601 strings are tried first, then Unix epoch seconds. The
// fallback is used when neither yields a time.
func ExtractTimestamp(payload map[string]any, fallback time.Time) (time.Time, bool) {
	for _, path := range timestampPaths {
		value, ok := lookupPath(payload, path)
		if !ok || isEmptyValue(value) {
			continue
		}
		if parsed, ok := parseTimestamp(value); ok {
			return parsed.UTC(), true
		}
		// first non-empty candidate decides, matching the field priority
		return fallback, false
	}
	return fallback, false
}

func parseTimestamp(value any) (time.Time, bool) {
	switch typed := value.(type) {
	case string:
		raw := strings.TrimSpace(typed)
		for _, layout := range isoLayouts {
			if parsed, err := time.Parse(layout, raw); err == nil {
				return parsed, true
			}
		}
		seconds, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return time.Time{}, false
		}
		return epochToTime(seconds)
	case float64:
		return epochToTime(typed)
	case int64:
		return epochToTime(float64(typed))
	case int:
		return epochToTime(float64(typed))
	default:
		return time.Time{}, false
	}
}

func epochToTime(seconds float64) (time.Time, bool) {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return time.Time{}, false
	}
	// beyond year 9999 the value is not a plausible epoch
	if seconds < -62135596800 || seconds > 253402300799 {
		return time.Time{}, false
	}
	whole, frac := math.Modf(seconds)
	return time.Unix(int64(whole), int64(frac*float64(time.Second))).UTC(), true
}

func lookupPath(payload map[string]any, path []string) (any, bool) {
	if len(path) == 0 || payload == nil {
		return nil, false
	}
	var current any = payload
	for _, key := range path {
		object, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = object[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func isEmptyValue(value any) bool {
	switch typed := value.(type) {
	case nil:
		return true
	case string:
		return typed == ""
	case float64:
		return typed == 0
	case bool:
		return !typed
	default:
		return false
	}
}

// NormalizePayload extracts the fields persisted alongside the raw payload.
func NormalizePayload(payload map[string]any, receivedAt time.Time) (NewEvent, error) {
	eventID, ok := EventIDRules.Extract(payload)
	if !ok || strings.TrimSpace(eventID) == "" {
		return NewEvent{}, ErrEventIDRequired
	}
	eventType, _ := EventTypeRules.Extract(payload)
	timestamp, _ := ExtractTimestamp(payload, receivedAt)

	event := NewEvent{
		EventID:   eventID,
		EventType: eventType,
		Timestamp: timestamp,
		Payload:   payload,
	}
	if email, ok := EmailRules.Extract(payload); ok && email != "" {
		event.Email = &email
	}
	if messageID, ok := MessageIDRules.Extract(payload); ok && messageID != "" {
		event.MessageID = &messageID
	}
	return event, nil
}
