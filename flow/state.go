// Package flow provides a checkpointed workflow execution engine: a directed
// graph of named steps run against shared channel-based state, with
// mid-execution suspension, replay from historical checkpoints, and live
// progress streaming.
package flow

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
)

// Values is the state of one run: a mapping from channel name to the channel's
// current value. Append channels hold []any; overwrite channels hold whatever
// the last delta wrote.
type Values map[string]any

// Delta is a partial state update produced by a step. Keys absent from a delta
// leave the corresponding channels untouched.
type Delta map[string]any

// Reducer is the merge rule for a channel. It is fixed at schema-build time
// and never varies per step.
type Reducer int

const (
	// Overwrite replaces the channel's value with the delta's value.
	Overwrite Reducer = iota

	// Append concatenates the delta's value (a sequence) onto the channel's
	// existing sequence, creating the channel on first write. Insertion order
	// is preserved and duplicates are allowed.
	Append
)

// String returns the reducer name for logs and error messages.
func (r Reducer) String() string {
	switch r {
	case Append:
		return "append"
	case Overwrite:
		return "overwrite"
	default:
		return fmt.Sprintf("reducer(%d)", int(r))
	}
}

// Schema declares the channels a graph's state may contain and the reducer
// for each. Deltas touching an undeclared channel are rejected at merge time;
// they are never silently accepted.
//
// Build a schema once, before compiling the graph:
//
//	schema := flow.NewSchema().
//	    AppendChannel("messages").
//	    Channel("status").
//	    Channel("extracted_parameters")
type Schema struct {
	channels map[string]Reducer
}

// NewSchema creates an empty channel schema.
func NewSchema() *Schema {
	return &Schema{channels: make(map[string]Reducer)}
}

// Channel declares an overwrite channel. Redeclaring an existing channel with
// a different reducer panics: mixing reducers on one channel is a build-time
// error, not a runtime condition.
func (s *Schema) Channel(name string) *Schema {
	return s.declare(name, Overwrite)
}

// AppendChannel declares an append channel.
func (s *Schema) AppendChannel(name string) *Schema {
	return s.declare(name, Append)
}

func (s *Schema) declare(name string, r Reducer) *Schema {
	if existing, ok := s.channels[name]; ok && existing != r {
		panic(fmt.Sprintf("flow: channel %q already declared with reducer %s", name, existing))
	}
	s.channels[name] = r
	return s
}

// Reducer reports the declared reducer for a channel.
func (s *Schema) Reducer(name string) (Reducer, bool) {
	r, ok := s.channels[name]
	return r, ok
}

// ChannelNames returns the declared channel names in sorted order.
func (s *Schema) ChannelNames() []string {
	names := make([]string, 0, len(s.channels))
	for name := range s.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Merge applies a whole delta to a state and returns the resulting state.
// The inputs are never mutated; callers therefore get all-or-nothing
// semantics for free — on error the original state is still valid and no
// partial merge has been observed.
//
// For each key in the delta:
//   - overwrite channels take the delta value as-is;
//   - append channels concatenate the delta value, itself a sequence, onto
//     the existing sequence (a non-slice value counts as a one-element
//     sequence, mirroring single-message appends).
//
// An undeclared key fails the merge with *UnknownChannelError.
func (s *Schema) Merge(state Values, delta Delta) (Values, error) {
	merged := make(Values, len(state)+len(delta))
	for k, v := range state {
		merged[k] = v
	}

	for name, value := range delta {
		reducer, ok := s.channels[name]
		if !ok {
			return nil, &UnknownChannelError{Channel: name}
		}

		switch reducer {
		case Append:
			items := toSequence(value)
			prev, _ := merged[name].([]any)
			next := make([]any, 0, len(prev)+len(items))
			next = append(next, prev...)
			next = append(next, items...)
			merged[name] = next
		default:
			merged[name] = value
		}
	}

	return merged, nil
}

// toSequence normalizes an append-channel delta value to []any.
func toSequence(value any) []any {
	if items, ok := value.([]any); ok {
		out := make([]any, len(items))
		copy(out, items)
		return out
	}

	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = rv.Index(i).Interface()
		}
		return out
	}

	return []any{value}
}

// Snapshot returns a deep copy of the state via a JSON round trip, so that
// checkpointed snapshots cannot alias live state. Values must therefore be
// JSON-serializable; structured channel values should be plain structs, maps,
// and slices.
func Snapshot(state Values) (Values, error) {
	if state == nil {
		return Values{}, nil
	}

	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}

	var copied Values
	if err := json.Unmarshal(data, &copied); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	if copied == nil {
		copied = Values{}
	}
	return copied, nil
}
