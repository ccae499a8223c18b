// Package agenthook is the optional agent-loop extension point. It owns the
// agent_jobs data model: a goal with a checklist, a durable session state,
// and a step-by-step reasoning trace, all advanced by an injected planner.
// The engine ships no planner; without one the runner stays idle, and the
// schema here is what an embedding deployment codes its planner against.
package agenthook

import (
	"encoding/json"
	"fmt"
	"time"
)

// SessionState is the durable working memory of one agent job. It survives
// restarts by round-tripping through the session_state column, so everything
// a planner needs to resume mid-goal must live here.
type SessionState struct {
	Goal        string        `json:"goal"`
	Checklist   []string      `json:"checklist,omitempty"`
	CurrentStep int           `json:"current_step"`
	Ledger      ContextLedger `json:"context_ledger"`
}

// ContextLedger accumulates what the loop has learned so far: tool outputs
// worth keeping and free-form planner notes. Fact keys are chosen by the
// planner and stay stable across iterations.
type ContextLedger struct {
	Facts map[string]string `json:"facts,omitempty"`
	Notes []string          `json:"notes,omitempty"`
}

// Record stores one fact, replacing any earlier value under the same key.
func (l *ContextLedger) Record(key, value string) {
	if l.Facts == nil {
		l.Facts = make(map[string]string)
	}
	l.Facts[key] = value
}

// Note appends a free-form observation.
func (l *ContextLedger) Note(text string) {
	l.Notes = append(l.Notes, text)
}

// ReasoningStep is one loop iteration's record: what the planner thought,
// which tool it invoked with which arguments, and what came back.
type ReasoningStep struct {
	Iteration   int            `json:"iteration"`
	Thought     string         `json:"thought"`
	Tool        string         `json:"tool,omitempty"`
	Args        map[string]any `json:"args,omitempty"`
	Observation string         `json:"observation,omitempty"`
	At          time.Time      `json:"at"`
}

// EncodeSession serializes a session state for the session_state column.
func EncodeSession(s SessionState) ([]byte, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("op=agenthook.encode_session: %w", err)
	}
	return b, nil
}

// DecodeSession restores a session state. Empty input yields a zero state so
// freshly inserted jobs need no sentinel value.
func DecodeSession(b []byte) (SessionState, error) {
	if len(b) == 0 {
		return SessionState{}, nil
	}
	var s SessionState
	if err := json.Unmarshal(b, &s); err != nil {
		return SessionState{}, fmt.Errorf("op=agenthook.decode_session: %w", err)
	}
	return s, nil
}

// EncodeTrace serializes the reasoning trace for the reasoning_trace column.
func EncodeTrace(trace []ReasoningStep) ([]byte, error) {
	if trace == nil {
		trace = []ReasoningStep{}
	}
	b, err := json.Marshal(trace)
	if err != nil {
		return nil, fmt.Errorf("op=agenthook.encode_trace: %w", err)
	}
	return b, nil
}

// DecodeTrace restores a reasoning trace; empty input means no steps yet.
func DecodeTrace(b []byte) ([]ReasoningStep, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var trace []ReasoningStep
	if err := json.Unmarshal(b, &trace); err != nil {
		return nil, fmt.Errorf("op=agenthook.decode_trace: %w", err)
	}
	return trace, nil
}
