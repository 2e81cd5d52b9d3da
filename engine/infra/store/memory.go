// Package store provides in-memory repository implementations backing tests
// and single-node deployments. The postgres package provides the durable
// equivalents with the same semantics.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/runloom/runloom/engine/artifact"
	"github.com/runloom/runloom/engine/core"
	"github.com/runloom/runloom/engine/event"
	"github.com/runloom/runloom/engine/run"
	"github.com/runloom/runloom/engine/step"
)

// Runs is the in-memory run.Repository.
type Runs struct {
	mu   sync.Mutex
	rows map[core.ID]*run.Run
}

func NewRuns() *Runs {
	return &Runs{rows: make(map[core.ID]*run.Run)}
}

func (s *Runs) Create(_ context.Context, r *run.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.rows[r.ID] = &cp
	return nil
}

func (s *Runs) Get(_ context.Context, id core.ID) (*run.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return nil, run.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *Runs) GetStatus(_ context.Context, id core.ID) (run.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return "", run.ErrNotFound
	}
	return r.Status, nil
}

// Transition re-checks legality under the lock so concurrent controls cannot
// race past the state machine.
func (s *Runs) Transition(_ context.Context, id core.ID, to run.Status, errMsg string) (*run.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return nil, run.ErrNotFound
	}
	if !run.CanTransition(r.Status, to) {
		return nil, core.NewError(run.ErrIllegalTransition, "ILLEGAL_TRANSITION", map[string]any{
			"from": r.Status, "to": to,
		})
	}
	r.ApplyTransition(to, errMsg)
	cp := *r
	return &cp, nil
}

func (s *Runs) Update(_ context.Context, r *run.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.rows[r.ID]
	if !ok {
		return run.ErrNotFound
	}
	cp := *r
	// Status changes go through Transition only.
	cp.Status = existing.Status
	cp.UpdatedAt = time.Now().UTC()
	s.rows[r.ID] = &cp
	return nil
}

// Steps is the in-memory step.Repository. The (run, key) uniqueness the
// relational schema enforces with a constraint is enforced here under the
// lock.
type Steps struct {
	mu     sync.Mutex
	rows   map[core.ID]*step.Step
	byKey  map[stepKey]core.ID
	serial int
	order  map[core.ID]int
}

type stepKey struct {
	runID core.ID
	key   string
}

func NewSteps() *Steps {
	return &Steps{
		rows:  make(map[core.ID]*step.Step),
		byKey: make(map[stepKey]core.ID),
		order: make(map[core.ID]int),
	}
}

func (s *Steps) Create(_ context.Context, st *step.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := stepKey{runID: st.RunID, key: st.Key}
	if _, exists := s.byKey[k]; exists {
		return step.ErrDuplicateKey
	}
	cp := *st
	s.rows[st.ID] = &cp
	s.byKey[k] = st.ID
	s.serial++
	s.order[st.ID] = s.serial
	return nil
}

func (s *Steps) GetByKey(_ context.Context, runID core.ID, key string) (*step.Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byKey[stepKey{runID: runID, key: key}]
	if !ok {
		return nil, step.ErrNotFound
	}
	cp := *s.rows[id]
	return &cp, nil
}

func (s *Steps) Update(_ context.Context, st *step.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[st.ID]; !ok {
		return step.ErrNotFound
	}
	cp := *st
	s.rows[st.ID] = &cp
	return nil
}

func (s *Steps) ListByRun(_ context.Context, runID core.ID) ([]*step.Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*step.Step
	for _, st := range s.rows {
		if st.RunID == runID {
			cp := *st
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return s.order[out[i].ID] < s.order[out[j].ID] })
	return out, nil
}

// Events is the in-memory append-only event.Repository.
type Events struct {
	mu   sync.Mutex
	rows []*event.Event
}

func NewEvents() *Events {
	return &Events{}
}

func (s *Events) Create(_ context.Context, ev *event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ev
	s.rows = append(s.rows, &cp)
	return nil
}

func (s *Events) ListByRun(_ context.Context, runID core.ID) ([]*event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*event.Event
	for _, ev := range s.rows {
		if ev.RunID == runID {
			cp := *ev
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Artifacts is the in-memory artifact.Repository.
type Artifacts struct {
	mu   sync.Mutex
	rows []*artifact.Artifact
}

func NewArtifacts() *Artifacts {
	return &Artifacts{}
}

func (s *Artifacts) Create(_ context.Context, a *artifact.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.rows = append(s.rows, &cp)
	return nil
}

func (s *Artifacts) ListByRun(_ context.Context, runID core.ID) ([]*artifact.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*artifact.Artifact
	for _, a := range s.rows {
		if a.RunID == runID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}
