package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drfsched/pkg/model"
)

func TestGreedyPicksMaxCPU(t *testing.T) {
	nodes := []*model.Node{
		newNode("node-1", 2000, 8192),
		newNode("node-2", 6000, 1024),
		newNode("node-3", 4000, 4096),
	}
	binder := &recordingBinder{}
	result := NewGreedyCPU().Schedule(context.Background(), &Cycle{
		Pods:   []*model.Pod{newPod("pod", 500, 500)},
		Nodes:  nodes,
		Binder: binder,
	})

	assert.Equal(t, []binding{{"pod", "node-2"}}, binder.bindings)
	assert.Len(t, result.Bound, 1)
}

func TestGreedyTieIsDeterministic(t *testing.T) {
	for i := 0; i < 10; i++ {
		binder := &recordingBinder{}
		NewGreedyCPU().Schedule(context.Background(), &Cycle{
			Pods:   []*model.Pod{newPod("pod", 500, 500)},
			Nodes:  []*model.Node{newNode("node-1", 4000, 1), newNode("node-2", 4000, 9999)},
			Binder: binder,
		})
		assert.Equal(t, []binding{{"pod", "node-1"}}, binder.bindings)
	}
}

func TestGreedyRefreshesAfterEachBinding(t *testing.T) {
	// The control plane reports less CPU on node-1 after the first binding.
	refreshes := 0
	refresh := func(ctx context.Context) ([]*model.Node, error) {
		refreshes++
		return []*model.Node{newNode("node-1", 1000, 1000), newNode("node-2", 3000, 1000)}, nil
	}
	binder := &recordingBinder{}
	result := NewGreedyCPU().Schedule(context.Background(), &Cycle{
		Pods:    []*model.Pod{newPod("a", 100, 100), newPod("b", 100, 100)},
		Nodes:   []*model.Node{newNode("node-1", 4000, 1000), newNode("node-2", 3000, 1000)},
		Binder:  binder,
		Refresh: refresh,
	})

	assert.Equal(t, []binding{{"a", "node-1"}, {"b", "node-2"}}, binder.bindings)
	assert.Equal(t, 1, refreshes)
	assert.Len(t, result.Bound, 2)
}

func TestGreedyDoesNotDeductLocally(t *testing.T) {
	nodes := []*model.Node{newNode("node-1", 4000, 1000), newNode("node-2", 3000, 1000)}
	binder := &recordingBinder{}
	NewGreedyCPU().Schedule(context.Background(), &Cycle{
		Pods:   []*model.Pod{newPod("a", 3500, 100), newPod("b", 3500, 100)},
		Nodes:  nodes,
		Binder: binder,
	})

	assert.Equal(t, []binding{{"a", "node-1"}, {"b", "node-1"}}, binder.bindings)
	assert.Equal(t, int64(4000), nodes[0].Remaining.MilliCPU)
}

func TestGreedyNoNodes(t *testing.T) {
	binder := &recordingBinder{}
	result := NewGreedyCPU().Schedule(context.Background(), &Cycle{
		Pods:   []*model.Pod{newPod("a", 1, 1), newPod("b", 1, 1)},
		Binder: binder,
	})

	assert.True(t, result.NoNodes)
	assert.Empty(t, binder.bindings)
	assert.Len(t, result.Skipped, 2)
	assert.Empty(t, result.Unplaceable)
}

func TestGreedyBindFailureContinues(t *testing.T) {
	binder := &recordingBinder{bindErr: map[string]error{"a": errors.New("rejected")}}
	result := NewGreedyCPU().Schedule(context.Background(), &Cycle{
		Pods:   []*model.Pod{newPod("a", 1, 1), newPod("b", 1, 1)},
		Nodes:  []*model.Node{newNode("node-1", 1000, 1000)},
		Binder: binder,
	})

	require.Len(t, result.Failed, 1)
	assert.Equal(t, "a", result.Failed[0].Pod.Name)
	assert.Equal(t, []binding{{"b", "node-1"}}, binder.bindings)
}

func TestGreedyRefreshFailureEndsPass(t *testing.T) {
	refresh := func(ctx context.Context) ([]*model.Node, error) {
		return nil, errors.New("apiserver down")
	}
	binder := &recordingBinder{}
	result := NewGreedyCPU().Schedule(context.Background(), &Cycle{
		Pods:    []*model.Pod{newPod("a", 1, 1), newPod("b", 1, 1), newPod("c", 1, 1)},
		Nodes:   []*model.Node{newNode("node-1", 1000, 1000)},
		Binder:  binder,
		Refresh: refresh,
	})

	assert.Equal(t, []binding{{"a", "node-1"}}, binder.bindings)
	assert.Len(t, result.Skipped, 2)
	assert.Equal(t, 3, result.Count())
}

func TestNewPolicy(t *testing.T) {
	p, err := NewPolicy(PolicyDRF)
	require.NoError(t, err)
	assert.Equal(t, PolicyDRF, p.Name())

	p, err = NewPolicy(PolicyGreedyCPU)
	require.NoError(t, err)
	assert.Equal(t, PolicyGreedyCPU, p.Name())

	_, err = NewPolicy("random")
	assert.Error(t, err)
}
