package scheduler

import (
	"context"

	"github.com/pkg/errors"

	"drfsched/pkg/model"
)

const (
	PolicyDRF       = "drf"
	PolicyGreedyCPU = "greedy-cpu"
)

// Binder commits one placement to the control plane.
type Binder interface {
	Bind(ctx context.Context, pod *model.Pod, nodeName string) error
}

// Reporter receives pods a policy gave up on for the current pass.
type Reporter interface {
	Unplaceable(ctx context.Context, pod *model.Pod, reason string)
}

// Cycle is the input of one scheduling pass.
type Cycle struct {
	Pods  []*model.Pod
	Nodes []*model.Node

	Binder   Binder
	Reporter Reporter

	// Refresh re-reads nodes from the control plane. May be nil.
	Refresh func(ctx context.Context) ([]*model.Node, error)
}

type Placement struct {
	Pod  *model.Pod
	Node string
	Err  error
}

type Rejection struct {
	Pod    *model.Pod
	Reason string
}

// Result of a pass. Every input pod ends up in exactly one of Bound,
// Failed, Unplaceable or Skipped.
type Result struct {
	Bound       []Placement
	Failed      []Placement
	Unplaceable []Rejection
	Skipped     []*model.Pod
	NoNodes     bool
}

func (r *Result) Count() int {
	return len(r.Bound) + len(r.Failed) + len(r.Unplaceable) + len(r.Skipped)
}

// Policy decides placements for a whole pass and commits each one through
// the cycle's Binder as it is made.
type Policy interface {
	Name() string
	Schedule(ctx context.Context, cycle *Cycle) *Result
}

func NewPolicy(name string) (Policy, error) {
	switch name {
	case PolicyDRF:
		return NewDRF(), nil
	case PolicyGreedyCPU:
		return NewGreedyCPU(), nil
	}
	return nil, errors.Errorf("unknown policy %q, expected %s or %s", name, PolicyDRF, PolicyGreedyCPU)
}
