// Package streamparse extracts discrete actions from a growing, not yet
// complete JSON buffer. The buffer is expected to converge on a document of
// the form {"actions": [...]}; at any prefix the parser speculatively closes
// open strings, objects, and arrays so the partial document parses.
package streamparse

import "encoding/json"

// scanState is the position class of the repair scanner.
type scanState int

const (
	stateNormal scanState = iota
	stateInString
	stateEscape
)

// Repair closes whatever structures the buffer leaves open: an unterminated
// string gets a closing quote, then open objects and arrays are closed
// innermost first. Single pass, linear time. The input is never mutated.
func Repair(buf []byte) []byte {
	state := stateNormal
	// stack of open structure closers, innermost last
	var stack []byte

	for i := 0; i < len(buf); i++ {
		c := buf[i]
		switch state {
		case stateEscape:
			state = stateInString
		case stateInString:
			switch c {
			case '\\':
				state = stateEscape
			case '"':
				state = stateNormal
			}
		default:
			switch c {
			case '"':
				state = stateInString
			case '{':
				stack = append(stack, '}')
			case '[':
				stack = append(stack, ']')
			case '}', ']':
				if len(stack) > 0 && stack[len(stack)-1] == c {
					stack = stack[:len(stack)-1]
				}
			}
		}
	}

	repaired := append([]byte(nil), buf...)
	if state == stateEscape {
		// A dangling backslash cannot be completed meaningfully; drop it so
		// the closing quote does not get escaped.
		repaired = repaired[:len(repaired)-1]
		state = stateInString
	}
	if state == stateInString {
		repaired = append(repaired, '"')
	}
	for i := len(stack) - 1; i >= 0; i-- {
		repaired = append(repaired, stack[i])
	}
	return repaired
}

// Parse repairs buf and returns the raw objects of its "actions" array.
// Returns nil, false on unrecoverable parse failure or when the repaired
// document has no actions array. Never panics.
func Parse(buf []byte) ([]map[string]any, bool) {
	if len(buf) == 0 {
		return nil, true
	}

	var doc struct {
		Actions []map[string]any `json:"actions"`
	}
	if err := json.Unmarshal(Repair(buf), &doc); err != nil {
		return nil, false
	}
	if doc.Actions == nil {
		return nil, false
	}
	return doc.Actions, true
}
