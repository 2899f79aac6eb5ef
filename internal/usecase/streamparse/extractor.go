package streamparse

// Emission is one parser output: a raw action object plus whether its JSON
// has been fully observed. Incomplete emissions of the same action may
// repeat as the buffer grows; consumers must treat re-application of an
// unchanged emission as a no-op.
type Emission struct {
	Raw      map[string]any
	Complete bool
}

// Extractor implements the one-behind completion protocol over a growing
// buffer. A partial buffer cannot distinguish "this object is finished" from
// "this object is still being written", so an action is finalized only once
// a later sibling exists — or at stream end.
type Extractor struct {
	// cursor counts actions already emitted with Complete=true.
	cursor int
	// pending is the last action object observed but not yet finalized.
	pending map[string]any
}

// NewExtractor returns an extractor with no observed actions.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Push re-parses the full buffer and returns newly derivable emissions:
// every action with a later sibling that has not yet been finalized is
// emitted once with Complete=true; the trailing action, if any, is emitted
// with Complete=false. A buffer that does not yet parse yields nothing.
func (e *Extractor) Push(buf []byte) []Emission {
	actions, ok := Parse(buf)
	if !ok || len(actions) == 0 {
		return nil
	}

	var out []Emission
	for i := e.cursor; i < len(actions)-1; i++ {
		out = append(out, Emission{Raw: actions[i], Complete: true})
	}
	if len(actions)-1 > e.cursor {
		e.cursor = len(actions) - 1
	}

	e.pending = actions[len(actions)-1]
	if len(actions) > e.cursor {
		out = append(out, Emission{Raw: e.pending, Complete: false})
	}
	return out
}

// Finish finalizes whatever action remains pending at stream end. Safe to
// call once after the last Push; returns nil when every action was already
// finalized or none was observed.
func (e *Extractor) Finish() []Emission {
	if e.pending == nil {
		return nil
	}
	final := Emission{Raw: e.pending, Complete: true}
	e.pending = nil
	e.cursor++
	return []Emission{final}
}
