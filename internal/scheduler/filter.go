package scheduler

import (
	"fmt"

	"drfsched/pkg/model"
)

// checkFit 执行资源检查 (CPU & Memory)
// 返回空字符串表示节点放得下这个 Pod，否则返回原因
func checkFit(pod *model.Pod, node *model.Node) string {
	free := node.Remaining
	need := pod.Requests
	if need.Fits(free) {
		return ""
	}

	if free.MilliCPU < need.MilliCPU {
		return fmt.Sprintf("insufficient cpu on node %s (free: %dm, need: %dm)",
			node.Name, free.MilliCPU, need.MilliCPU)
	}
	return fmt.Sprintf("insufficient memory on node %s (free: %dMi, need: %dMi)",
		node.Name, free.MemoryMiB, need.MemoryMiB)
}
