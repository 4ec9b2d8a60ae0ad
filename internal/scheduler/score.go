package scheduler

import "drfsched/pkg/model"

// pickNode 返回指定资源剩余量最大的节点
// 贪心选择：只有严格更大才替换，所以平局时保留顺序上第一个节点
func pickNode(nodes []*model.Node, name model.ResourceName) *model.Node {
	var best *model.Node
	for _, node := range nodes {
		if best == nil || node.Remaining.Get(name) > best.Remaining.Get(name) {
			best = node
		}
	}
	return best
}
