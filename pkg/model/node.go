package model

// NodeStatus 节点健康状态
type NodeStatus string

const (
	NodeReady   NodeStatus = "READY"
	NodeOffline NodeStatus = "OFFLINE" // agent 正常退出时写入
)

type Node struct {
	Name string `json:"name"`

	// Allocatable is what the control plane reports for the node.
	// Remaining is only meaningful inside a scheduling pass: it starts equal
	// to Allocatable and shrinks as pods are placed.
	Allocatable Resource `json:"allocatable"`
	Remaining   Resource `json:"-"`

	Status        NodeStatus `json:"status,omitempty"`
	LastHeartbeat int64      `json:"last_heartbeat,omitempty"` // Unix 时间戳
}
