package model

import "time"

type PodPhase string

const (
	PodPending   PodPhase = "Pending"   // 等待调度
	PodScheduled PodPhase = "Scheduled" // 已分配节点，未运行
	PodRunning   PodPhase = "Running"
	PodSucceeded PodPhase = "Succeeded"
	PodFailed    PodPhase = "Failed"
)

type Pod struct {
	Name          string `json:"name"`
	Namespace     string `json:"namespace"`
	UID           string `json:"uid,omitempty"`
	SchedulerName string `json:"scheduler_name"`
	NodeName      string `json:"node_name,omitempty"`

	// Requests of the first container, normalized.
	Requests Resource `json:"requests"`

	// Only the etcd backend fills Spec; the agent runs it.
	Spec struct {
		Image   string   `json:"image,omitempty"`
		Command []string `json:"command"`
		Envs    []string `json:"envs"`
	} `json:"spec"`

	Status struct {
		Phase     PodPhase  `json:"phase"`
		Message   string    `json:"message,omitempty"`
		ExitCode  int       `json:"exit_code"`
		StartTime time.Time `json:"start_time"`
		EndTime   time.Time `json:"end_time"`
	} `json:"status"`
}

// Key is namespace/name.
func (p *Pod) Key() string {
	return p.Namespace + "/" + p.Name
}

// PendingFor reports whether the pod waits for the given scheduler.
func (p *Pod) PendingFor(schedulerName string) bool {
	return p.SchedulerName == schedulerName && p.NodeName == ""
}
