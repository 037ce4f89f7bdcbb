// Package audit records identity changes made through the relay. Aliases are
// irreversible on most vendors, so every identify, alias and reset is kept.
package audit

import "context"

const (
	ActionIdentify = "identify"
	ActionAlias    = "alias"
	ActionReset    = "reset"
)

type Event struct {
	Action    string
	UserID    string
	ForID     string
	Providers string
	Data      map[string]any
}

type Recorder interface {
	Record(ctx context.Context, event Event) error
}

type Reader interface {
	ListByUser(ctx context.Context, userID string, limit int) ([]EventRecord, error)
}

type EventRecord struct {
	ID        string         `json:"id"`
	Action    string         `json:"action"`
	UserID    string         `json:"userId"`
	ForID     string         `json:"forId,omitempty"`
	Providers string         `json:"providers"`
	Data      map[string]any `json:"data"`
	CreatedAt string         `json:"createdAt"`
}

type noopRecorder struct{}

func NewNoop() Recorder { return &noopRecorder{} }

func (r *noopRecorder) Record(context.Context, Event) error { return nil }
