package store

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"k8s.io/apimachinery/pkg/fields"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/tools/record"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	typedcorev1 "k8s.io/client-go/kubernetes/typed/core/v1"

	"drfsched/pkg/model"
)

const (
	EventReasonScheduled        = "Scheduled"
	EventReasonFailedScheduling = "FailedScheduling"
)

// KubeStore talks to a Kubernetes API server.
type KubeStore struct {
	client        kubernetes.Interface
	recorder      record.EventRecorder
	namespace     string
	schedulerName string
}

func NewKubeStore(client kubernetes.Interface, recorder record.EventRecorder, namespace, schedulerName string) *KubeStore {
	return &KubeStore{
		client:        client,
		recorder:      recorder,
		namespace:     namespace,
		schedulerName: schedulerName,
	}
}

// GetClientConfig uses kubeconfig when given, in-cluster config otherwise.
func GetClientConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig != "" {
		return clientcmd.BuildConfigFromFlags("", kubeconfig)
	}
	return rest.InClusterConfig()
}

// NewEventRecorder returns a recorder that writes events to the API server.
// Call Shutdown on the broadcaster when done.
func NewEventRecorder(client kubernetes.Interface, component string) (record.EventRecorder, record.EventBroadcaster) {
	broadcaster := record.NewBroadcaster()
	broadcaster.StartRecordingToSink(&typedcorev1.EventSinkImpl{
		Interface: client.CoreV1().Events(""),
	})
	return broadcaster.NewRecorder(scheme.Scheme, corev1.EventSource{Component: component}), broadcaster
}

func (k *KubeStore) ListPendingPods(ctx context.Context) ([]*model.Pod, error) {
	selector := fields.SelectorFromSet(fields.Set{
		"spec.schedulerName": k.schedulerName,
		"spec.nodeName":      "",
	})
	list, err := k.client.CoreV1().Pods(k.namespace).List(ctx, metav1.ListOptions{
		FieldSelector: selector.String(),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list pods in namespace %s", k.namespace)
	}

	pods := make([]*model.Pod, 0, len(list.Items))
	for i := range list.Items {
		kp := &list.Items[i]
		if kp.DeletionTimestamp != nil {
			continue
		}
		pod := podFromKube(kp)
		if !pod.PendingFor(k.schedulerName) {
			continue
		}
		pods = append(pods, pod)
	}
	return pods, nil
}

func (k *KubeStore) ListNodes(ctx context.Context) ([]*model.Node, error) {
	list, err := k.client.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list nodes")
	}

	nodes := make([]*model.Node, 0, len(list.Items))
	for _, kn := range list.Items {
		nodes = append(nodes, &model.Node{
			Name:        kn.Name,
			Allocatable: model.ResourceFromList(kn.Status.Allocatable),
			Status:      model.NodeReady,
		})
	}
	return nodes, nil
}

// Bind posts a Binding to pods/{name}/binding. The API server answers 201 on
// success; client-go surfaces anything else as an error.
func (k *KubeStore) Bind(ctx context.Context, pod *model.Pod, nodeName string) error {
	binding := &corev1.Binding{
		ObjectMeta: metav1.ObjectMeta{
			Name:      pod.Name,
			Namespace: pod.Namespace,
			UID:       types.UID(pod.UID),
		},
		Target: corev1.ObjectReference{
			APIVersion: "v1",
			Kind:       "Node",
			Name:       nodeName,
		},
	}
	if err := k.client.CoreV1().Pods(pod.Namespace).Bind(ctx, binding, metav1.CreateOptions{}); err != nil {
		return errors.Wrapf(err, "failed to bind pod %s to node %s", pod.Key(), nodeName)
	}

	if k.recorder != nil {
		k.recorder.Eventf(podReference(pod), corev1.EventTypeNormal, EventReasonScheduled,
			"Successfully assigned %s to %s", pod.Key(), nodeName)
	}
	return nil
}

func (k *KubeStore) ReportUnschedulable(ctx context.Context, pod *model.Pod, reason string) {
	if k.recorder == nil {
		logrus.Debugf("No event recorder, dropping FailedScheduling for %s", pod.Key())
		return
	}
	k.recorder.Event(podReference(pod), corev1.EventTypeWarning, EventReasonFailedScheduling, reason)
}

func podFromKube(kp *corev1.Pod) *model.Pod {
	pod := &model.Pod{
		Name:          kp.Name,
		Namespace:     kp.Namespace,
		UID:           string(kp.UID),
		SchedulerName: kp.Spec.SchedulerName,
		NodeName:      kp.Spec.NodeName,
	}
	// Only the first container is considered.
	if len(kp.Spec.Containers) > 0 {
		c := kp.Spec.Containers[0]
		pod.Requests = model.ResourceFromList(c.Resources.Requests)
		pod.Spec.Image = c.Image
		pod.Spec.Command = c.Command
	}
	pod.Status.Phase = model.PodPending
	return pod
}

func podReference(pod *model.Pod) *corev1.ObjectReference {
	return &corev1.ObjectReference{
		APIVersion: "v1",
		Kind:       "Pod",
		Namespace:  pod.Namespace,
		Name:       pod.Name,
		UID:        types.UID(pod.UID),
	}
}
