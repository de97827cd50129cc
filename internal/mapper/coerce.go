package mapper

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/trackx/internal/models"
	"github.com/desertthunder/trackx/internal/shared"
)

var statusTable = map[string]models.TaskStatus{
	"todo":        models.StatusTodo,
	"to do":       models.StatusTodo,
	"open":        models.StatusTodo,
	"backlog":     models.StatusTodo,
	"new":         models.StatusTodo,
	"reopened":    models.StatusTodo,
	"in progress": models.StatusInProgress,
	"in_progress": models.StatusInProgress,
	"doing":       models.StatusInProgress,
	"in review":   models.StatusInReview,
	"in_review":   models.StatusInReview,
	"review":      models.StatusInReview,
	"code review": models.StatusInReview,
	"done":        models.StatusDone,
	"closed":      models.StatusDone,
	"resolved":    models.StatusDone,
	"cancelled":   models.StatusCancelled,
	"canceled":    models.StatusCancelled,
	"won't do":    models.StatusCancelled,
	"wont do":     models.StatusCancelled,
}

var priorityTable = map[string]models.Priority{
	"lowest":   models.PriorityLowest,
	"trivial":  models.PriorityLowest,
	"low":      models.PriorityLow,
	"minor":    models.PriorityLow,
	"medium":   models.PriorityMedium,
	"normal":   models.PriorityMedium,
	"high":     models.PriorityHigh,
	"major":    models.PriorityHigh,
	"highest":  models.PriorityHighest,
	"critical": models.PriorityHighest,
	"blocker":  models.PriorityHighest,
}

// timestamp layouts accepted from the remote, tried in order
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
}

const dateLayout = "2006-01-02"

// ParseStatus maps a remote workflow status name onto [models.TaskStatus].
func ParseStatus(field, v string) (models.TaskStatus, error) {
	if s, ok := statusTable[normalize(v)]; ok {
		return s, nil
	}
	return "", shared.NewMappingError(field, "unrecognized status %q", v)
}

// ParsePriority maps a remote priority name onto [models.Priority].
func ParsePriority(field, v string) (models.Priority, error) {
	if p, ok := priorityTable[normalize(v)]; ok {
		return p, nil
	}
	return "", shared.NewMappingError(field, "unrecognized priority %q", v)
}

// ParseTimestamp parses a remote timestamp and normalizes it to UTC.
func ParseTimestamp(field, v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, shared.NewMappingError(field, "unparsable timestamp %q", v)
}

// ParseDate parses a calendar date as midnight UTC.
func ParseDate(field, v string) (time.Time, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(v))
	if err != nil {
		return time.Time{}, shared.NewMappingError(field, "unparsable date %q", v)
	}
	return t, nil
}

func normalize(v string) string {
	return strings.ToLower(strings.Join(strings.Fields(v), " "))
}

// record accessors; every failure names the dotted field path

type fields struct {
	prefix string
	m      map[string]any
}

func newFields(prefix string, m map[string]any) fields {
	return fields{prefix: prefix, m: m}
}

func (f fields) path(key string) string {
	if f.prefix == "" {
		return key
	}
	return f.prefix + "." + key
}

func (f fields) present(key string) bool {
	v, ok := f.m[key]
	return ok && v != nil
}

func (f fields) requiredString(key string) (string, error) {
	v, ok := f.m[key]
	if !ok || v == nil {
		return "", shared.NewMappingError(f.path(key), "required field is missing")
	}
	s, err := asString(v)
	if err != nil {
		return "", shared.NewMappingError(f.path(key), "%v", err)
	}
	if strings.TrimSpace(s) == "" {
		return "", shared.NewMappingError(f.path(key), "required field is empty")
	}
	return s, nil
}

func (f fields) optionalString(key string) (*string, error) {
	v, ok := f.m[key]
	if !ok || v == nil {
		return nil, nil
	}
	s, err := asString(v)
	if err != nil {
		return nil, shared.NewMappingError(f.path(key), "%v", err)
	}
	if s == "" {
		return nil, nil
	}
	return &s, nil
}

func (f fields) stringOr(key, fallback string) (string, error) {
	s, err := f.optionalString(key)
	if err != nil || s == nil {
		return fallback, err
	}
	return *s, nil
}

func (f fields) boolOr(key string, fallback bool) (bool, error) {
	v, ok := f.m[key]
	if !ok || v == nil {
		return fallback, nil
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return false, shared.NewMappingError(f.path(key), "expected boolean, got %q", b)
		}
		return parsed, nil
	}
	return false, shared.NewMappingError(f.path(key), "expected boolean, got %T", v)
}

func (f fields) object(key string) (fields, bool, error) {
	v, ok := f.m[key]
	if !ok || v == nil {
		return fields{}, false, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return fields{}, false, shared.NewMappingError(f.path(key), "expected object, got %T", v)
	}
	return newFields(f.path(key), m), true, nil
}

func (f fields) optionalFloat(key string) (*float64, error) {
	v, ok := f.m[key]
	if !ok || v == nil {
		return nil, nil
	}
	n, err := asFloat(v)
	if err != nil {
		return nil, shared.NewMappingError(f.path(key), "%v", err)
	}
	return &n, nil
}

func (f fields) optionalInt(key string) (*int64, error) {
	n, err := f.optionalFloat(key)
	if err != nil || n == nil {
		return nil, err
	}
	if *n != math.Trunc(*n) {
		return nil, shared.NewMappingError(f.path(key), "expected whole number, got %v", *n)
	}
	i := int64(*n)
	return &i, nil
}

func (f fields) timestamp(key string) (time.Time, error) {
	s, err := f.requiredString(key)
	if err != nil {
		return time.Time{}, err
	}
	return ParseTimestamp(f.path(key), s)
}

func (f fields) optionalDate(key string) (*time.Time, error) {
	s, err := f.optionalString(key)
	if err != nil || s == nil {
		return nil, err
	}
	t, err := ParseDate(f.path(key), *s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func asString(v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case json.Number:
		return s.String(), nil
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), nil
	case int, int64:
		return fmt.Sprint(s), nil
	}
	return "", fmt.Errorf("expected string, got %T", v)
}

func asFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("expected number, got %q", n)
		}
		return f, nil
	}
	return 0, fmt.Errorf("expected number, got %T", v)
}
