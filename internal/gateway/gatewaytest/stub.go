// Package gatewaytest provides a deterministic gateway.Generator for tests.
package gatewaytest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/jonathan/labelscan/internal/gateway"
	"github.com/jonathan/labelscan/internal/schemas"
)

// Call records one Generate invocation.
type Call struct {
	Kind        gateway.PromptKind
	Input       gateway.Vars
	Constraints gateway.Constraints
}

// Stub answers every prompt kind with a canned JSON reply or error. Replies
// are validated against the requested shape the same way the real gateway
// does, so malformed canned replies surface as MalformedResponseError.
type Stub struct {
	Responses map[gateway.PromptKind]string
	Errors    map[gateway.PromptKind]error
	// GenerateFunc, when set, replaces the canned lookup.
	GenerateFunc func(ctx context.Context, kind gateway.PromptKind, input gateway.Vars) (string, error)

	mu    sync.Mutex
	calls []Call
}

// Generate implements gateway.Generator.
func (s *Stub) Generate(ctx context.Context, kind gateway.PromptKind, input gateway.Vars, constraints gateway.Constraints, out any) error {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Kind: kind, Input: input, Constraints: constraints})
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	var raw string
	if s.GenerateFunc != nil {
		r, err := s.GenerateFunc(ctx, kind, input)
		if err != nil {
			return err
		}
		raw = r
	} else {
		if err := s.Errors[kind]; err != nil {
			return err
		}
		r, ok := s.Responses[kind]
		if !ok {
			return &gateway.UpstreamUnavailableError{Kind: kind, Attempts: 1, Last: errors.New("no canned response")}
		}
		raw = r
	}

	if constraints.Shape != "" {
		if err := schemas.ValidateShape(constraints.Shape, raw); err != nil {
			return &gateway.MalformedResponseError{Kind: kind, Shape: constraints.Shape, Raw: raw, Cause: err}
		}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return &gateway.MalformedResponseError{Kind: kind, Shape: constraints.Shape, Raw: raw, Cause: err}
	}
	return nil
}

// Calls returns a copy of the recorded invocations.
func (s *Stub) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallCount returns how many times kind was requested.
func (s *Stub) CallCount(kind gateway.PromptKind) int {
	n := 0
	for _, c := range s.Calls() {
		if c.Kind == kind {
			n++
		}
	}
	return n
}
