// Package record defines the aggregate output of one pipeline run and the
// document shape handed to persistence sinks.
package record

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return st, nil
	default:
		return "", fmt.Errorf("unknown status %q", s)
	}
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition enforces pending -> running -> {completed|failed}.
func (s Status) CanTransition(to Status) bool {
	switch s {
	case StatusPending:
		return to == StatusRunning
	case StatusRunning:
		return to.Terminal()
	default:
		return false
	}
}

// ExecutionRecord is immutable once built. Accessors hand out copies.
type ExecutionRecord struct {
	metadata map[string]string
	items    []string
	status   Status
}

func New(metadata map[string]string, items []string, status Status) ExecutionRecord {
	md := make(map[string]string, len(metadata))
	maps.Copy(md, metadata)
	it := make([]string, len(items))
	copy(it, items)
	return ExecutionRecord{metadata: md, items: it, status: status}
}

func (r ExecutionRecord) Metadata() map[string]string {
	return maps.Clone(r.metadata)
}

func (r ExecutionRecord) Items() []string {
	return slices.Clone(r.items)
}

func (r ExecutionRecord) Status() Status {
	return r.status
}

func (r ExecutionRecord) Equal(o ExecutionRecord) bool {
	return r.status == o.status &&
		slices.Equal(r.items, o.items) &&
		maps.Equal(r.metadata, o.metadata)
}

// Document is the mapping written by sinks. Field order is the key order.
type Document struct {
	Metadata map[string]string `json:"metadata" yaml:"metadata"`
	Items    []string          `json:"items" yaml:"items"`
	Status   Status            `json:"status" yaml:"status"`
}

func (r ExecutionRecord) Document() Document {
	items := r.Items()
	if items == nil {
		items = []string{}
	}
	return Document{Metadata: r.Metadata(), Items: items, Status: r.status}
}

func FromDocument(d Document) (ExecutionRecord, error) {
	st, err := ParseStatus(string(d.Status))
	if err != nil {
		return ExecutionRecord{}, err
	}
	return New(d.Metadata, d.Items, st), nil
}

// Marshal renders the record as JSON, indented by indent spaces when > 0.
// Metadata keys come out sorted.
func Marshal(r ExecutionRecord, indent int) ([]byte, error) {
	if indent <= 0 {
		return json.Marshal(r.Document())
	}
	return json.MarshalIndent(r.Document(), "", strings.Repeat(" ", indent))
}

func Unmarshal(b []byte) (ExecutionRecord, error) {
	var d Document
	if err := json.Unmarshal(b, &d); err != nil {
		return ExecutionRecord{}, fmt.Errorf("decode record: %w", err)
	}
	return FromDocument(d)
}

func (r ExecutionRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Document())
}

func (r *ExecutionRecord) UnmarshalJSON(b []byte) error {
	rec, err := Unmarshal(b)
	if err != nil {
		return err
	}
	*r = rec
	return nil
}

type runIDKey struct{}

// WithRunID attaches the run id to ctx so sinks can label what they write.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

func RunIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(runIDKey{}).(string)
	return v
}
