package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"drfsched/pkg/model"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// Key 布局 (Schema Design)
//
//	/drfsched/pods/<namespace>/<name>
//	/drfsched/nodes/<name>
//	/drfsched/logs/<namespace>/<name>
const (
	PodKeyPrefix  = "/drfsched/pods/"
	NodeKeyPrefix = "/drfsched/nodes/"
	LogKeyPrefix  = "/drfsched/logs/"
)

// NodeHeartbeatTimeout is how old a node's last heartbeat may be before
// ListNodes stops returning it.
const NodeHeartbeatTimeout = 10 * time.Second

type EtcdStore struct {
	client        *clientv3.Client
	namespace     string
	schedulerName string

	heartbeatTimeout time.Duration
	now              func() time.Time
}

// NewEtcdStore 初始化 Etcd 连接. schedulerName only affects ListPendingPods
// and may be empty for agents and drfctl.
func NewEtcdStore(endpoints []string, namespace, schedulerName string) (*EtcdStore, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to etcd %v", endpoints)
	}
	return &EtcdStore{
		client:           cli,
		namespace:        namespace,
		schedulerName:    schedulerName,
		heartbeatTimeout: NodeHeartbeatTimeout,
		now:              time.Now,
	}, nil
}

func (e *EtcdStore) Close() error {
	return e.client.Close()
}

func podKey(namespace, name string) string {
	return PodKeyPrefix + namespace + "/" + name
}

func logKey(namespace, name string) string {
	return LogKeyPrefix + namespace + "/" + name
}

// ---------------------------------------------------------
// ControlPlane
// ---------------------------------------------------------

func (e *EtcdStore) ListPendingPods(ctx context.Context) ([]*model.Pod, error) {
	resp, err := e.client.Get(ctx, PodKeyPrefix+e.namespace+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, errors.Wrap(err, "failed to list pods")
	}

	pods := make([]*model.Pod, 0)
	for _, kv := range resp.Kvs {
		var pod model.Pod
		if err := json.Unmarshal(kv.Value, &pod); err != nil {
			logrus.WithError(err).Warnf("Failed to unmarshal pod %s", kv.Key)
			continue
		}
		if pod.PendingFor(e.schedulerName) {
			pods = append(pods, &pod)
		}
	}
	return pods, nil
}

// ListNodes returns READY nodes whose heartbeat is recent. An agent that
// died without writing OFFLINE drops out after NodeHeartbeatTimeout.
func (e *EtcdStore) ListNodes(ctx context.Context) ([]*model.Node, error) {
	resp, err := e.client.Get(ctx, NodeKeyPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, errors.Wrap(err, "failed to list nodes")
	}

	deadline := e.now().Add(-e.heartbeatTimeout).Unix()
	nodes := make([]*model.Node, 0)
	for _, kv := range resp.Kvs {
		var node model.Node
		if err := json.Unmarshal(kv.Value, &node); err != nil {
			logrus.WithError(err).Warnf("Failed to unmarshal node %s", kv.Key)
			continue
		}
		if node.Status == model.NodeOffline {
			continue
		}
		if node.LastHeartbeat < deadline {
			logrus.Debugf("Skipping node %s, last heartbeat at %v", node.Name, time.Unix(node.LastHeartbeat, 0))
			continue
		}
		nodes = append(nodes, &node)
	}
	return nodes, nil
}

// Bind sets the pod's node name in a transaction guarded by the revision we
// read, so a concurrent writer makes the binding fail instead of being lost.
func (e *EtcdStore) Bind(ctx context.Context, pod *model.Pod, nodeName string) error {
	nodeResp, err := e.client.Get(ctx, NodeKeyPrefix+nodeName)
	if err != nil {
		return errors.Wrapf(err, "failed to get node %s", nodeName)
	}
	if len(nodeResp.Kvs) == 0 {
		return errors.Wrapf(ErrNotFound, "node %s", nodeName)
	}

	key := podKey(pod.Namespace, pod.Name)
	current, revision, err := e.getPod(ctx, key)
	if err != nil {
		return err
	}
	if current.NodeName != "" {
		return errors.Wrapf(ErrAlreadyBound, "pod %s is on node %s", pod.Key(), current.NodeName)
	}

	current.NodeName = nodeName
	current.Status.Phase = model.PodScheduled
	current.Status.Message = ""
	updated, err := e.putPodIfUnchanged(ctx, current, revision)
	if err != nil {
		return errors.Wrapf(err, "failed to bind pod %s", pod.Key())
	}
	if !updated {
		return errors.Wrapf(ErrAlreadyBound, "pod %s changed while binding", pod.Key())
	}
	return nil
}

// ReportUnschedulable writes the reason into the pod's status message. A
// pod that changed since it was read, or was bound meanwhile, is left alone.
func (e *EtcdStore) ReportUnschedulable(ctx context.Context, pod *model.Pod, reason string) {
	current, revision, err := e.getPod(ctx, podKey(pod.Namespace, pod.Name))
	if err != nil {
		logrus.WithError(err).Warnf("Failed to record unschedulable pod %s", pod.Key())
		return
	}
	if current.NodeName != "" {
		return
	}
	current.Status.Message = reason
	updated, err := e.putPodIfUnchanged(ctx, current, revision)
	if err != nil {
		logrus.WithError(err).Warnf("Failed to record unschedulable pod %s", pod.Key())
		return
	}
	if !updated {
		logrus.Debugf("Pod %s changed before its unschedulable reason was written", pod.Key())
	}
}

// ---------------------------------------------------------
// Pod 相关实现
// ---------------------------------------------------------

func (e *EtcdStore) CreatePod(ctx context.Context, pod *model.Pod) error {
	data, err := json.Marshal(pod)
	if err != nil {
		return err
	}
	key := podKey(pod.Namespace, pod.Name)
	resp, err := e.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, string(data))).
		Commit()
	if err != nil {
		return errors.Wrapf(err, "failed to create pod %s", pod.Key())
	}
	if !resp.Succeeded {
		return errors.Errorf("pod %s already exists", pod.Key())
	}
	return nil
}

func (e *EtcdStore) GetPod(ctx context.Context, namespace, name string) (*model.Pod, error) {
	pod, _, err := e.getPod(ctx, podKey(namespace, name))
	return pod, err
}

func (e *EtcdStore) UpdatePod(ctx context.Context, pod *model.Pod) error {
	return e.putValue(ctx, podKey(pod.Namespace, pod.Name), pod)
}

func (e *EtcdStore) ListBoundPods(ctx context.Context, nodeName string) ([]*model.Pod, int64, error) {
	resp, err := e.client.Get(ctx, PodKeyPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, 0, errors.Wrapf(err, "failed to list pods of node %s", nodeName)
	}

	pods := make([]*model.Pod, 0)
	for _, kv := range resp.Kvs {
		var pod model.Pod
		if err := json.Unmarshal(kv.Value, &pod); err != nil {
			logrus.WithError(err).Warnf("Failed to unmarshal pod %s", kv.Key)
			continue
		}
		if pod.NodeName == nodeName {
			pods = append(pods, &pod)
		}
	}
	return pods, resp.Header.Revision, nil
}

// WatchPods 将 Etcd 的 Watch 转换为业务 Channel
func (e *EtcdStore) WatchPods(ctx context.Context, revision int64) <-chan PodEvent {
	eventChan := make(chan PodEvent)

	opts := []clientv3.OpOption{clientv3.WithPrefix(), clientv3.WithPrevKV()}
	if revision > 0 {
		opts = append(opts, clientv3.WithRev(revision+1))
	}

	go func() {
		defer close(eventChan)
		watchChan := e.client.Watch(ctx, PodKeyPrefix, opts...)

		for watchResp := range watchChan {
			for _, ev := range watchResp.Events {
				eventType := PodPut
				value := ev.Kv.Value
				if ev.Type == clientv3.EventTypeDelete {
					eventType = PodDelete
					if ev.PrevKv == nil {
						continue
					}
					value = ev.PrevKv.Value
				}

				var pod model.Pod
				if err := json.Unmarshal(value, &pod); err != nil {
					logrus.WithError(err).Warnf("Failed to unmarshal pod %s", ev.Kv.Key)
					continue
				}

				select {
				case eventChan <- PodEvent{Type: eventType, Pod: &pod}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return eventChan
}

// ---------------------------------------------------------
// Node 相关实现
// ---------------------------------------------------------

func (e *EtcdStore) RegisterNode(ctx context.Context, node *model.Node) error {
	return e.putValue(ctx, NodeKeyPrefix+node.Name, node)
}

// ---------------------------------------------------------
// Log 相关实现
// ---------------------------------------------------------

func (e *EtcdStore) SaveLog(ctx context.Context, pod *model.Pod, logs string) error {
	data := map[string]string{
		"pod":     pod.Key(),
		"node":    pod.NodeName,
		"content": logs,
	}
	return e.putValue(ctx, logKey(pod.Namespace, pod.Name), data)
}

func (e *EtcdStore) GetLog(ctx context.Context, namespace, name string) (string, error) {
	resp, err := e.client.Get(ctx, logKey(namespace, name))
	if err != nil {
		return "", err
	}
	if len(resp.Kvs) == 0 {
		return "", errors.Wrapf(ErrNotFound, "log for pod %s/%s", namespace, name)
	}

	var data map[string]string
	if err := json.Unmarshal(resp.Kvs[0].Value, &data); err != nil {
		return "", err
	}
	return data["content"], nil
}

// ---------------------------------------------------------
// 辅助方法 (Helpers)
// ---------------------------------------------------------

func (e *EtcdStore) getPod(ctx context.Context, key string) (*model.Pod, int64, error) {
	resp, err := e.client.Get(ctx, key)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "failed to get %s", key)
	}
	if len(resp.Kvs) == 0 {
		return nil, 0, errors.Wrapf(ErrNotFound, "pod %s", key)
	}
	var pod model.Pod
	if err := json.Unmarshal(resp.Kvs[0].Value, &pod); err != nil {
		return nil, 0, errors.Wrapf(err, "failed to unmarshal %s", key)
	}
	return &pod, resp.Kvs[0].ModRevision, nil
}

// putPodIfUnchanged writes pod only if its key is still at revision. It
// reports false when another writer got there first.
func (e *EtcdStore) putPodIfUnchanged(ctx context.Context, pod *model.Pod, revision int64) (bool, error) {
	data, err := json.Marshal(pod)
	if err != nil {
		return false, err
	}
	key := podKey(pod.Namespace, pod.Name)
	resp, err := e.client.Txn(ctx).
		If(clientv3.Compare(clientv3.ModRevision(key), "=", revision)).
		Then(clientv3.OpPut(key, string(data))).
		Commit()
	if err != nil {
		return false, err
	}
	return resp.Succeeded, nil
}

// putValue 封装通用的 JSON 序列化 + Put 操作
func (e *EtcdStore) putValue(ctx context.Context, key string, val interface{}) error {
	bytes, err := json.Marshal(val)
	if err != nil {
		return err
	}
	_, err = e.client.Put(ctx, key, string(bytes))
	return err
}
