package scheduler

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"drfsched/pkg/model"
	"drfsched/pkg/store"
)

// Inventory reads what the control plane has for this scheduler.
type Inventory struct {
	cp            store.ControlPlane
	schedulerName string
	reservedNode  string
}

func NewInventory(cp store.ControlPlane, schedulerName, reservedNode string) *Inventory {
	return &Inventory{
		cp:            cp,
		schedulerName: schedulerName,
		reservedNode:  reservedNode,
	}
}

// PendingPods returns unbound pods that name this scheduler, in the order
// the control plane listed them. Pods with negative requests are left out.
func (i *Inventory) PendingPods(ctx context.Context) ([]*model.Pod, error) {
	pods, err := i.cp.ListPendingPods(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read pending pods")
	}

	pending := make([]*model.Pod, 0, len(pods))
	for _, pod := range pods {
		if !pod.PendingFor(i.schedulerName) {
			continue
		}
		if pod.Requests.Negative() {
			logrus.Warnf("Ignoring pod %s with negative requests %+v", pod.Key(), pod.Requests)
			continue
		}
		pending = append(pending, pod)
	}
	return pending, nil
}

// Nodes returns candidate nodes sorted by name, without the reserved node
// or nodes reporting negative allocatable, with Remaining reset to
// Allocatable.
func (i *Inventory) Nodes(ctx context.Context) ([]*model.Node, error) {
	nodes, err := i.cp.ListNodes(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read nodes")
	}

	candidates := make([]*model.Node, 0, len(nodes))
	for _, node := range nodes {
		if node.Name == i.reservedNode {
			continue
		}
		if node.Allocatable.Negative() {
			logrus.Warnf("Ignoring node %s with negative allocatable %+v", node.Name, node.Allocatable)
			continue
		}
		node.Remaining = node.Allocatable
		candidates = append(candidates, node)
	}
	sort.Slice(candidates, func(a, b int) bool {
		return candidates[a].Name < candidates[b].Name
	})
	return candidates, nil
}
