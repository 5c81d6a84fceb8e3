package utils

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"VoteBoard/budget"
)

// Publishers fans a vote event out to every publisher and joins their errors.
type Publishers []budget.Publisher

func (ps Publishers) Publish(ctx context.Context, e budget.VoteEvent) error {
	var errs []error
	for _, p := range ps {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func EncodeVoteEvent(e budget.VoteEvent) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode vote event: %w", err)
	}
	return b, nil
}

func DecodeVoteEvent(b []byte) (budget.VoteEvent, error) {
	var e budget.VoteEvent
	if err := json.Unmarshal(b, &e); err != nil {
		return budget.VoteEvent{}, fmt.Errorf("decode vote event: %w", err)
	}
	if e.Type != budget.EventAllocated && e.Type != budget.EventWithdrawn {
		return budget.VoteEvent{}, fmt.Errorf("decode vote event: unknown type %q", e.Type)
	}
	return e, nil
}
