package scheduler

import (
	"context"
	"math"

	"github.com/sirupsen/logrus"

	"drfsched/pkg/model"
)

// DRF places pods by Dominant Resource Fairness: the pending pod with the
// smallest dominant share of total cluster capacity goes first, onto the
// node with the most headroom in that pod's dominant resource.
type DRF struct {
	log logrus.FieldLogger
}

func NewDRF() *DRF {
	return &DRF{log: logrus.WithField("policy", PolicyDRF)}
}

func (d *DRF) Name() string {
	return PolicyDRF
}

// DominantShare returns max(cpu share, memory share) of req against total
// and the resource that produced it. A zero total yields an infinite share
// for that resource. CPU wins ties.
func DominantShare(req, total model.Resource) (float64, model.ResourceName) {
	cpu := share(req.MilliCPU, total.MilliCPU)
	memory := share(req.MemoryMiB, total.MemoryMiB)
	if memory > cpu {
		return memory, model.ResourceMemory
	}
	return cpu, model.ResourceCPU
}

func share(req, total int64) float64 {
	if total == 0 {
		return math.Inf(1)
	}
	return float64(req) / float64(total)
}

// nextPod returns the index of the pod with the minimum dominant share.
// Ties keep the earliest pod.
func nextPod(pending []*model.Pod, total model.Resource) (int, float64, model.ResourceName) {
	best := -1
	bestShare := 0.0
	bestResource := model.ResourceCPU
	for i, pod := range pending {
		drs, dominant := DominantShare(pod.Requests, total)
		if best == -1 || drs < bestShare {
			best, bestShare, bestResource = i, drs, dominant
		}
	}
	return best, bestShare, bestResource
}

func (d *DRF) Schedule(ctx context.Context, cycle *Cycle) *Result {
	result := &Result{}
	if len(cycle.Nodes) == 0 {
		d.log.Warn("No available nodes, skipping pass")
		result.NoNodes = true
		result.Skipped = append(result.Skipped, cycle.Pods...)
		return result
	}

	// Totals are fixed for the pass.
	ledger := NewLedger(cycle.Nodes)
	total := ledger.Total()

	pending := make([]*model.Pod, len(cycle.Pods))
	copy(pending, cycle.Pods)

	for len(pending) > 0 {
		if ctx.Err() != nil {
			result.Skipped = append(result.Skipped, pending...)
			break
		}

		// Step 1 & 2: 最小 dominant share 的 Pod
		idx, drs, dominant := nextPod(pending, total)
		pod := pending[idx]
		pending = append(pending[:idx], pending[idx+1:]...)

		// Step 3: 该资源剩余最多的节点
		node := ledger.MaxBy(dominant)
		d.log.Debugf("Pod %s: drs=%.4f dominant=%s candidate=%s", pod.Key(), drs, dominant, node.Name)

		if reason := checkFit(pod, node); reason != "" {
			d.log.Warnf("Unable to schedule pod %s: %s", pod.Key(), reason)
			if cycle.Reporter != nil {
				cycle.Reporter.Unplaceable(ctx, pod, reason)
			}
			result.Unplaceable = append(result.Unplaceable, Rejection{Pod: pod, Reason: reason})
			continue
		}

		// Step 4: Bind，成功后才扣减资源
		if err := cycle.Binder.Bind(ctx, pod, node.Name); err != nil {
			result.Failed = append(result.Failed, Placement{Pod: pod, Node: node.Name, Err: err})
			continue
		}
		ledger.Deduct(node.Name, pod.Requests)
		result.Bound = append(result.Bound, Placement{Pod: pod, Node: node.Name})
	}
	return result
}
