package resolve

// Result is the final outcome for one submitted identifier.
type Result struct {
	// Index is the position of the identifier in the submitted list.
	Index      int     `json:"index"`
	Identifier string  `json:"trackingNumber"`
	Outcome    Outcome `json:"outcome"`
}

// ResultSet holds one Result per submitted identifier, ordered by submission.
type ResultSet struct {
	Results []Result `json:"results"`

	// Passes is the number of batches dispatched.
	Passes int `json:"passes"`

	// Attempts is the number of throttled passes that consumed retry budget.
	Attempts int `json:"attempts"`
}

// Len returns the number of results.
func (rs *ResultSet) Len() int {
	return len(rs.Results)
}

// Get returns the outcome of the first occurrence of id.
func (rs *ResultSet) Get(id string) (Outcome, bool) {
	for _, r := range rs.Results {
		if r.Identifier == id {
			return r.Outcome, true
		}
	}
	return Outcome{}, false
}

// ByIdentifier collapses the results into a map keyed by identifier. When an
// identifier was submitted more than once the first occurrence wins.
func (rs *ResultSet) ByIdentifier() map[string]Outcome {
	out := make(map[string]Outcome, len(rs.Results))
	for _, r := range rs.Results {
		if _, seen := out[r.Identifier]; !seen {
			out[r.Identifier] = r.Outcome
		}
	}
	return out
}

// Counts tallies results by reason. Successes are counted under "success".
func (rs *ResultSet) Counts() map[string]int {
	counts := make(map[string]int)
	for _, r := range rs.Results {
		if r.Outcome.OK() {
			counts["success"]++
			continue
		}
		counts[string(r.Outcome.Reason)]++
	}
	return counts
}

// aggregator accumulates terminal outcomes by submission position. The first
// outcome recorded for a position is kept.
type aggregator struct {
	ids      []string
	outcomes []Outcome
	done     []bool
	pending  int
}

func newAggregator(ids []string) *aggregator {
	return &aggregator{
		ids:      ids,
		outcomes: make([]Outcome, len(ids)),
		done:     make([]bool, len(ids)),
		pending:  len(ids),
	}
}

// record stores a terminal outcome. Rate-limited outcomes are not terminal and
// are rejected, as are positions that already resolved.
func (a *aggregator) record(index int, outcome Outcome) bool {
	if index < 0 || index >= len(a.ids) || a.done[index] || outcome.RateLimited() {
		return false
	}
	a.outcomes[index] = outcome
	a.done[index] = true
	a.pending--
	return true
}

// exhaust relabels every unresolved position as retries exhausted, with the
// detail chosen per position.
func (a *aggregator) exhaust(detail func(index int) string) int {
	n := 0
	for i := range a.ids {
		if a.done[i] {
			continue
		}
		if a.record(i, Failure(ReasonRetriesExhausted, detail(i))) {
			n++
		}
	}
	return n
}

func (a *aggregator) result() *ResultSet {
	rs := &ResultSet{Results: make([]Result, len(a.ids))}
	for i, id := range a.ids {
		rs.Results[i] = Result{Index: i, Identifier: id, Outcome: a.outcomes[i]}
	}
	return rs
}
