package scheduler

import (
	"context"
	"fmt"
	"sync"

	"drfsched/pkg/model"
)

const (
	TestNamespace     = "workload"
	TestSchedulerName = "drf"
)

type binding struct {
	Pod  string
	Node string
}

type unschedulable struct {
	Pod    string
	Reason string
}

// fakeControlPlane is an in-memory store.ControlPlane. Bindings set the
// pod's node name, so the next poll no longer sees the pod.
type fakeControlPlane struct {
	mu sync.Mutex

	pods  []*model.Pod
	nodes []*model.Node

	listPodsErr  error
	listNodesErr error
	bindErr      map[string]error

	bindings      []binding
	unschedulable []unschedulable
	nodeLists     int
}

func (f *fakeControlPlane) ListPendingPods(ctx context.Context) ([]*model.Pod, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listPodsErr != nil {
		return nil, f.listPodsErr
	}
	pods := []*model.Pod{}
	for _, p := range f.pods {
		if p.NodeName == "" {
			cp := *p
			pods = append(pods, &cp)
		}
	}
	return pods, nil
}

func (f *fakeControlPlane) ListNodes(ctx context.Context) ([]*model.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodeLists++
	if f.listNodesErr != nil {
		return nil, f.listNodesErr
	}
	nodes := []*model.Node{}
	for _, n := range f.nodes {
		cp := *n
		nodes = append(nodes, &cp)
	}
	return nodes, nil
}

func (f *fakeControlPlane) Bind(ctx context.Context, pod *model.Pod, nodeName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.bindErr[pod.Name]; err != nil {
		return err
	}
	for _, p := range f.pods {
		if p.Name == pod.Name {
			if p.NodeName != "" {
				return fmt.Errorf("pod %s already bound", pod.Name)
			}
			p.NodeName = nodeName
		}
	}
	f.bindings = append(f.bindings, binding{Pod: pod.Name, Node: nodeName})
	return nil
}

func (f *fakeControlPlane) ReportUnschedulable(ctx context.Context, pod *model.Pod, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unschedulable = append(f.unschedulable, unschedulable{Pod: pod.Name, Reason: reason})
}

// recordingBinder is a Binder and Reporter for calling policies directly.
type recordingBinder struct {
	bindErr     map[string]error
	bindings    []binding
	unplaceable []string
}

func (r *recordingBinder) Bind(ctx context.Context, pod *model.Pod, nodeName string) error {
	if err := r.bindErr[pod.Name]; err != nil {
		return err
	}
	r.bindings = append(r.bindings, binding{Pod: pod.Name, Node: nodeName})
	return nil
}

func (r *recordingBinder) Unplaceable(ctx context.Context, pod *model.Pod, reason string) {
	r.unplaceable = append(r.unplaceable, pod.Name)
}

func newPod(name string, cpu, memoryMiB int64) *model.Pod {
	return &model.Pod{
		Name:          name,
		Namespace:     TestNamespace,
		SchedulerName: TestSchedulerName,
		Requests:      model.Resource{MilliCPU: cpu, MemoryMiB: memoryMiB},
	}
}

func newNode(name string, cpu, memoryMiB int64) *model.Node {
	r := model.Resource{MilliCPU: cpu, MemoryMiB: memoryMiB}
	return &model.Node{Name: name, Allocatable: r, Remaining: r, Status: model.NodeReady}
}
