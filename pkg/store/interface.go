package store

import (
	"context"

	"github.com/pkg/errors"

	"drfsched/pkg/model"
)

var (
	// ErrAlreadyBound is returned by Bind when the pod already has a node.
	ErrAlreadyBound = errors.New("pod is already bound")
	ErrNotFound     = errors.New("not found")
)

// ControlPlane 是调度器对控制面的全部需求
// Kubernetes API server 和 etcd 两种后端都实现这个接口
type ControlPlane interface {
	// ListPendingPods 返回本调度器负责、尚未分配节点的 Pod
	ListPendingPods(ctx context.Context) ([]*model.Pod, error)

	// ListNodes 返回所有节点及其 allocatable 资源
	ListNodes(ctx context.Context) ([]*model.Node, error)

	// Bind 把 Pod 绑定到节点
	Bind(ctx context.Context, pod *model.Pod, nodeName string) error

	// ReportUnschedulable surfaces a placement failure on the pod itself.
	ReportUnschedulable(ctx context.Context, pod *model.Pod, reason string)
}

// PodEventType 定义监听事件类型
type PodEventType int

const (
	PodPut PodEventType = iota
	PodDelete
)

type PodEvent struct {
	Type PodEventType
	Pod  *model.Pod
}

// Store is the standalone control plane used without Kubernetes: the
// scheduler reads and binds through ControlPlane, agents register nodes and
// watch their pods, drfctl submits pods and reads logs.
type Store interface {
	ControlPlane

	CreatePod(ctx context.Context, pod *model.Pod) error
	GetPod(ctx context.Context, namespace, name string) (*model.Pod, error)
	UpdatePod(ctx context.Context, pod *model.Pod) error
	// ListBoundPods returns pods of every namespace bound to nodeName and
	// the store revision they were read at.
	ListBoundPods(ctx context.Context, nodeName string) ([]*model.Pod, int64, error)
	// WatchPods streams pod changes after revision, or from now when
	// revision is 0. The channel closes when ctx is done.
	WatchPods(ctx context.Context, revision int64) <-chan PodEvent

	RegisterNode(ctx context.Context, node *model.Node) error

	SaveLog(ctx context.Context, pod *model.Pod, logs string) error
	GetLog(ctx context.Context, namespace, name string) (string, error)
}
