package scheduler

import (
	"context"

	"github.com/sirupsen/logrus"

	"drfsched/pkg/model"
)

// GreedyCPU binds every pod to the node with the most remaining CPU. It
// keeps no ledger: nodes are re-read from the control plane after each
// binding.
type GreedyCPU struct {
	log logrus.FieldLogger
}

func NewGreedyCPU() *GreedyCPU {
	return &GreedyCPU{log: logrus.WithField("policy", PolicyGreedyCPU)}
}

func (g *GreedyCPU) Name() string {
	return PolicyGreedyCPU
}

func (g *GreedyCPU) Schedule(ctx context.Context, cycle *Cycle) *Result {
	result := &Result{NoNodes: len(cycle.Nodes) == 0}
	nodes := cycle.Nodes

	for i, pod := range cycle.Pods {
		if ctx.Err() != nil {
			result.Skipped = append(result.Skipped, cycle.Pods[i:]...)
			break
		}

		node := pickNode(nodes, model.ResourceCPU)
		if node == nil {
			g.log.Debugf("No node for pod %s, skipping", pod.Key())
			result.Skipped = append(result.Skipped, pod)
			continue
		}

		if err := cycle.Binder.Bind(ctx, pod, node.Name); err != nil {
			result.Failed = append(result.Failed, Placement{Pod: pod, Node: node.Name, Err: err})
		} else {
			result.Bound = append(result.Bound, Placement{Pod: pod, Node: node.Name})
		}

		if cycle.Refresh == nil || i == len(cycle.Pods)-1 {
			continue
		}
		refreshed, err := cycle.Refresh(ctx)
		if err != nil {
			g.log.WithError(err).Warn("Failed to refresh nodes, ending pass")
			result.Skipped = append(result.Skipped, cycle.Pods[i+1:]...)
			break
		}
		nodes = refreshed
	}
	return result
}
