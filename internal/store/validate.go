package store

import (
	"context"
	"fmt"
)

// Issue describes one history that could not be loaded cleanly.
type Issue struct {
	Instrument string
	Repaired   bool
	Err        error
}

func (i Issue) String() string {
	if i.Err != nil {
		return fmt.Sprintf("%s: unreadable: %v", i.Instrument, i.Err)
	}
	return i.Instrument + ": repaired on read"
}

// historyChecker is implemented by stores that can repair histories on read.
type historyChecker interface {
	CheckHistory(ctx context.Context, instrument string) (repaired bool, err error)
}

// Validate loads every stored history and reports the unreadable ones and,
// for stores that repair on read, the repaired ones.
func Validate(ctx context.Context, hs HistoryStore) ([]Issue, error) {
	codes, err := hs.ListInstruments(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing instruments: %w", err)
	}

	checker, _ := hs.(historyChecker)
	var issues []Issue
	for _, code := range codes {
		if err := ctx.Err(); err != nil {
			return issues, err
		}
		if checker != nil {
			repaired, err := checker.CheckHistory(ctx, code)
			if err != nil || repaired {
				issues = append(issues, Issue{Instrument: code, Repaired: repaired, Err: err})
			}
			continue
		}
		if _, err := hs.ReadHistory(ctx, code); err != nil {
			issues = append(issues, Issue{Instrument: code, Err: err})
		}
	}
	return issues, nil
}
