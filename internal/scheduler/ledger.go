package scheduler

import "drfsched/pkg/model"

// Ledger holds per-node remaining capacity for one scheduling pass. Totals
// are fixed when the ledger is built and never shrink.
type Ledger struct {
	nodes  []*model.Node
	byName map[string]*model.Node
	total  model.Resource
}

// NewLedger copies the nodes so the caller's slice is never mutated.
func NewLedger(nodes []*model.Node) *Ledger {
	l := &Ledger{
		nodes:  make([]*model.Node, 0, len(nodes)),
		byName: make(map[string]*model.Node, len(nodes)),
	}
	for _, node := range nodes {
		n := *node
		n.Remaining = n.Allocatable
		l.nodes = append(l.nodes, &n)
		l.byName[n.Name] = &n
		l.total = l.total.Add(n.Allocatable)
	}
	return l
}

func (l *Ledger) Total() model.Resource {
	return l.total
}

func (l *Ledger) Nodes() []*model.Node {
	return l.nodes
}

func (l *Ledger) CapacityOf(name string) (model.Resource, bool) {
	n, ok := l.byName[name]
	if !ok {
		return model.Resource{}, false
	}
	return n.Remaining, true
}

// Deduct subtracts req from the node's remaining capacity. Callers check
// fit first; nothing is clamped here.
func (l *Ledger) Deduct(name string, req model.Resource) {
	if n, ok := l.byName[name]; ok {
		n.Remaining = n.Remaining.Sub(req)
	}
}

// MaxBy returns the node with the most remaining capacity of the resource,
// or nil when the ledger is empty.
func (l *Ledger) MaxBy(name model.ResourceName) *model.Node {
	return pickNode(l.nodes, name)
}
