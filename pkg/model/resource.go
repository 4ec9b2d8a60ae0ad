package model

import (
	"github.com/pkg/errors"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
)

// ResourceName 资源维度
type ResourceName string

const (
	ResourceCPU    ResourceName = "cpu"
	ResourceMemory ResourceName = "memory"
)

const bytesPerMiB = 1 << 20

// Resource is always expressed in millicores and MiB.
type Resource struct {
	MilliCPU  int64 `json:"milli_cpu"`
	MemoryMiB int64 `json:"memory_mib"`
}

func (r Resource) Add(other Resource) Resource {
	return Resource{MilliCPU: r.MilliCPU + other.MilliCPU, MemoryMiB: r.MemoryMiB + other.MemoryMiB}
}

func (r Resource) Sub(other Resource) Resource {
	return Resource{MilliCPU: r.MilliCPU - other.MilliCPU, MemoryMiB: r.MemoryMiB - other.MemoryMiB}
}

// Fits reports whether r can be carved out of capacity in both dimensions.
func (r Resource) Fits(capacity Resource) bool {
	return r.MilliCPU <= capacity.MilliCPU && r.MemoryMiB <= capacity.MemoryMiB
}

// Negative reports whether either dimension is below zero.
func (r Resource) Negative() bool {
	return r.MilliCPU < 0 || r.MemoryMiB < 0
}

func (r Resource) Get(name ResourceName) int64 {
	if name == ResourceMemory {
		return r.MemoryMiB
	}
	return r.MilliCPU
}

// NormalizeCPU converts a CPU quantity ("500m", "2", "1.5") to millicores.
func NormalizeCPU(q resource.Quantity) int64 {
	return q.MilliValue()
}

// NormalizeMemory converts a memory quantity ("1024Ki", "512Mi", "1Gi",
// plain bytes) to whole MiB, rounding down.
func NormalizeMemory(q resource.Quantity) int64 {
	return q.Value() / bytesPerMiB
}

// ParseResource parses raw cpu and memory strings. An empty string is zero,
// a negative quantity is an error.
func ParseResource(cpu, memory string) (Resource, error) {
	var r Resource
	if cpu != "" {
		q, err := parseQuantity(ResourceCPU, cpu)
		if err != nil {
			return Resource{}, err
		}
		r.MilliCPU = NormalizeCPU(q)
	}
	if memory != "" {
		q, err := parseQuantity(ResourceMemory, memory)
		if err != nil {
			return Resource{}, err
		}
		r.MemoryMiB = NormalizeMemory(q)
	}
	return r, nil
}

func parseQuantity(name ResourceName, raw string) (resource.Quantity, error) {
	q, err := resource.ParseQuantity(raw)
	if err != nil {
		return resource.Quantity{}, errors.Wrapf(err, "invalid %s quantity %q", name, raw)
	}
	if q.Sign() < 0 {
		return resource.Quantity{}, errors.Errorf("invalid %s quantity %q: must not be negative", name, raw)
	}
	return q, nil
}

// ResourceFromList picks cpu and memory out of a Kubernetes resource list.
// Missing entries count as zero, and so do negative ones.
func ResourceFromList(list corev1.ResourceList) Resource {
	var r Resource
	if q, ok := list[corev1.ResourceCPU]; ok && q.Sign() > 0 {
		r.MilliCPU = NormalizeCPU(q)
	}
	if q, ok := list[corev1.ResourceMemory]; ok && q.Sign() > 0 {
		r.MemoryMiB = NormalizeMemory(q)
	}
	return r
}
