package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"drfsched/pkg/model"
	"drfsched/pkg/store"
)

const HeartbeatInterval = 3 * time.Second

// Executor runs a bound pod to completion.
type Executor interface {
	Run(ctx context.Context, pod *model.Pod) (output string, exitCode int, err error)
}

// Agent registers one node with the etcd control plane and runs the pods
// bound to it.
type Agent struct {
	Name     string
	Capacity model.Resource

	store    store.Store
	executor Executor
	log      *logrus.Entry
	now      func() time.Time

	mu      sync.Mutex
	running map[string]struct{}
}

func NewAgent(s store.Store, exec Executor, name string, capacity model.Resource) *Agent {
	return &Agent{
		Name:     name,
		Capacity: capacity,
		store:    s,
		executor: exec,
		log:      logrus.WithFields(logrus.Fields{"component": "agent", "node": name}),
		now:      time.Now,
		running:  map[string]struct{}{},
	}
}

func (a *Agent) Run(ctx context.Context) {
	// 1. 启动心跳
	go a.startHeartbeat(ctx)

	// 2. 启动任务监听
	a.log.Infof("Waiting for pods bound to %s (%dm cpu, %dMi memory)",
		a.Name, a.Capacity.MilliCPU, a.Capacity.MemoryMiB)
	revision, err := a.resumePods(ctx)
	if err != nil {
		a.log.WithError(err).Warn("Failed to list pods bound while the agent was down")
	}
	a.watchPods(ctx, revision)

	// 下线
	offlineCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.register(offlineCtx, model.NodeOffline); err != nil {
		a.log.WithError(err).Warn("Failed to mark node offline")
	}
}

func (a *Agent) startHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()
	for {
		if err := a.register(ctx, model.NodeReady); err != nil && ctx.Err() == nil {
			a.log.WithError(err).Warn("Heartbeat failed")
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// resumePods starts pods that were bound to this node before the agent
// came up and returns the revision to watch from.
func (a *Agent) resumePods(ctx context.Context) (int64, error) {
	pods, revision, err := a.store.ListBoundPods(ctx, a.Name)
	if err != nil {
		return 0, err
	}
	for _, pod := range pods {
		if pod.Status.Phase == model.PodScheduled {
			a.log.Infof("Resuming pod %s", pod.Key())
			a.start(ctx, pod)
		}
	}
	return revision, nil
}

func (a *Agent) watchPods(ctx context.Context, revision int64) {
	for event := range a.store.WatchPods(ctx, revision) {
		if event.Type != store.PodPut {
			continue
		}
		pod := event.Pod
		// 只有分配给我、且状态是 Scheduled 的 Pod 才处理
		if pod.NodeName == a.Name && pod.Status.Phase == model.PodScheduled {
			a.log.Infof("Received pod %s", pod.Key())
			a.start(ctx, pod)
		}
	}
}

// start runs pod in the background unless it is already running here.
func (a *Agent) start(ctx context.Context, pod *model.Pod) {
	key := pod.Key()
	a.mu.Lock()
	if _, ok := a.running[key]; ok {
		a.mu.Unlock()
		return
	}
	a.running[key] = struct{}{}
	a.mu.Unlock()

	go func() {
		defer func() {
			a.mu.Lock()
			delete(a.running, key)
			a.mu.Unlock()
		}()
		a.executePod(ctx, pod)
	}()
}

// executePod 执行 Pod 并更新状态
func (a *Agent) executePod(ctx context.Context, pod *model.Pod) {
	pod.Status.Phase = model.PodRunning
	pod.Status.StartTime = a.now()
	if err := a.store.UpdatePod(ctx, pod); err != nil {
		a.log.WithError(err).Warnf("Failed to mark pod %s running", pod.Key())
	}

	output, exitCode, err := a.executor.Run(ctx, pod)

	pod.Status.ExitCode = exitCode
	switch {
	case err != nil:
		a.log.WithError(err).Warnf("Pod %s failed", pod.Key())
		pod.Status.Phase = model.PodFailed
		pod.Status.Message = err.Error()
	case exitCode != 0:
		pod.Status.Phase = model.PodFailed
		pod.Status.Message = fmt.Sprintf("exited with code %d", exitCode)
	default:
		pod.Status.Phase = model.PodSucceeded
	}
	pod.Status.EndTime = a.now()
	if err := a.store.UpdatePod(ctx, pod); err != nil {
		a.log.WithError(err).Warnf("Failed to update pod %s", pod.Key())
	}

	// 上传日志 (不管成功失败，只要有日志就上传)
	if output != "" {
		if err := a.store.SaveLog(ctx, pod, output); err != nil {
			a.log.WithError(err).Warnf("Failed to save logs of pod %s", pod.Key())
		}
	}
}

func (a *Agent) register(ctx context.Context, status model.NodeStatus) error {
	return a.store.RegisterNode(ctx, &model.Node{
		Name:          a.Name,
		Allocatable:   a.Capacity,
		Status:        status,
		LastHeartbeat: a.now().Unix(),
	})
}
