package sink

import (
	"context"
	"errors"
	"fmt"

	"taskpipe/internal/record"
)

// Saver is satisfied by every sink in this package and by state.Store.
type Saver interface {
	Save(ctx context.Context, rec record.ExecutionRecord) error
}

type Named struct {
	Name string
	Sink Saver
}

// Multi saves to every member in order. All members are attempted; the
// returned error joins the failures.
type Multi struct {
	members []Named
}

func NewMulti(members ...Named) *Multi {
	return &Multi{members: members}
}

func (m *Multi) Len() int {
	return len(m.members)
}

func (m *Multi) Save(ctx context.Context, rec record.ExecutionRecord) error {
	var errs []error
	for _, n := range m.members {
		if err := n.Sink.Save(ctx, rec); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n.Name, err))
		}
	}
	return errors.Join(errs...)
}
