// Package ledger keeps the append-only history of completed optimization
// rounds.
package ledger

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/prompt-optimizer/internal/model"
)

// Ledger is an append-only sequence of completed rounds. Entries are never
// reordered or changed after Append. A Ledger is owned by one run and is not
// safe for concurrent use.
type Ledger struct {
	entries []model.IterationHistory
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{}
}

// Append records a deep copy of a completed round. Iterations must strictly
// increase.
func (l *Ledger) Append(entry model.IterationHistory) error {
	if n := len(l.entries); n > 0 && entry.Iteration <= l.entries[n-1].Iteration {
		return eris.Errorf("ledger: iteration %d does not follow %d", entry.Iteration, l.entries[n-1].Iteration)
	}
	l.entries = append(l.entries, entry.Clone())
	return nil
}

// Window returns the last n entries in chronological order, or all of them
// when fewer exist. Entries are deep copies.
func (l *Ledger) Window(n int) []model.IterationHistory {
	if n <= 0 {
		return []model.IterationHistory{}
	}
	start := len(l.entries) - n
	if start < 0 {
		start = 0
	}
	out := make([]model.IterationHistory, 0, len(l.entries)-start)
	for _, e := range l.entries[start:] {
		out = append(out, e.Clone())
	}
	return out
}

// Entries returns a copy of every recorded round.
func (l *Ledger) Entries() []model.IterationHistory {
	return l.Window(len(l.entries))
}

// Len returns the number of recorded rounds.
func (l *Ledger) Len() int {
	return len(l.entries)
}

// Last returns the most recent entry.
func (l *Ledger) Last() (model.IterationHistory, bool) {
	if len(l.entries) == 0 {
		return model.IterationHistory{}, false
	}
	return l.entries[len(l.entries)-1].Clone(), true
}
