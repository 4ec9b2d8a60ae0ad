package scheduler

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"drfsched/pkg/model"
	"drfsched/pkg/store"
)

const (
	DefaultInterval     = time.Second
	DefaultCallTimeout  = 10 * time.Second
	DefaultReservedNode = "node-0"
)

type Config struct {
	SchedulerName string
	ReservedNode  string
	Interval      time.Duration
	// CallTimeout bounds every control-plane call. Zero means no bound.
	CallTimeout time.Duration
}

func (c Config) Validate() error {
	if c.SchedulerName == "" {
		return errors.New("scheduler name is required")
	}
	if c.Interval <= 0 {
		return errors.Errorf("polling interval must be positive, got %v", c.Interval)
	}
	if c.CallTimeout < 0 {
		return errors.Errorf("call timeout must not be negative, got %v", c.CallTimeout)
	}
	return nil
}

// Phase 调度循环的状态: POLL -> PLAN -> (COMMIT per binding) -> WAIT -> POLL
type Phase int

const (
	PhasePoll Phase = iota
	PhasePlan
	PhaseCommit
	PhaseWait
)

func (p Phase) String() string {
	switch p {
	case PhasePoll:
		return "POLL"
	case PhasePlan:
		return "PLAN"
	case PhaseCommit:
		return "COMMIT"
	case PhaseWait:
		return "WAIT"
	}
	return "UNKNOWN"
}

// Scheduler 核心调度器结构体
type Scheduler struct {
	cp        store.ControlPlane
	inventory *Inventory
	policy    Policy
	config    Config
	metrics   *Metrics
	log       *logrus.Entry

	phase Phase
	// OnPhase is called on every phase change. Optional.
	OnPhase func(Phase)
}

// NewScheduler 构造函数. metrics may be nil.
func NewScheduler(cp store.ControlPlane, policy Policy, config Config, metrics *Metrics) *Scheduler {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Scheduler{
		cp:        cp,
		inventory: NewInventory(cp, config.SchedulerName, config.ReservedNode),
		policy:    policy,
		config:    config,
		metrics:   metrics,
		log: logrus.WithFields(logrus.Fields{
			"component": "scheduler",
			"scheduler": config.SchedulerName,
			"policy":    policy.Name(),
		}),
		phase: PhasePoll,
	}
}

// Run 启动调度主循环，直到 ctx 被取消
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Infof("Started, polling every %v", s.config.Interval)

	var (
		pods  []*model.Pod
		nodes []*model.Node
	)
	timer := time.NewTimer(0)
	defer timer.Stop()

	s.setPhase(PhasePoll)
	for {
		if ctx.Err() != nil {
			s.log.Info("Stopped.")
			return
		}

		switch s.phase {
		case PhasePoll:
			var err error
			pods, nodes, err = s.poll(ctx)
			if err != nil || len(nodes) == 0 {
				s.setPhase(PhaseWait)
				continue
			}
			s.setPhase(PhasePlan)

		case PhasePlan, PhaseCommit:
			s.plan(ctx, pods, nodes)
			pods, nodes = nil, nil
			s.setPhase(PhaseWait)

		case PhaseWait:
			timer.Reset(s.config.Interval)
			select {
			case <-ctx.Done():
				s.log.Info("Stopped.")
				return
			case <-timer.C:
			}
			s.setPhase(PhasePoll)
		}
	}
}

// RunOnce runs a single POLL and PLAN without waiting.
func (s *Scheduler) RunOnce(ctx context.Context) (*Result, error) {
	s.setPhase(PhasePoll)
	pods, nodes, err := s.poll(ctx)
	if err != nil {
		s.setPhase(PhaseWait)
		return nil, err
	}
	if len(nodes) == 0 {
		s.setPhase(PhaseWait)
		return &Result{NoNodes: true, Skipped: pods}, nil
	}
	s.setPhase(PhasePlan)
	result := s.plan(ctx, pods, nodes)
	s.setPhase(PhaseWait)
	return result, nil
}

// Phase returns the current loop phase.
func (s *Scheduler) Phase() Phase {
	return s.phase
}

func (s *Scheduler) setPhase(p Phase) {
	if s.phase == p {
		return
	}
	s.phase = p
	if s.OnPhase != nil {
		s.OnPhase(p)
	}
}

// poll reads pending pods and candidate nodes. Errors are logged and
// counted; the caller waits for the next tick.
func (s *Scheduler) poll(ctx context.Context) ([]*model.Pod, []*model.Node, error) {
	callCtx, cancel := s.callContext(ctx)
	defer cancel()

	pods, err := s.inventory.PendingPods(callCtx)
	if err != nil {
		s.metrics.InventoryErrors.Inc()
		s.log.WithError(err).Warn("Failed to read inventory, retrying next cycle")
		return nil, nil, err
	}
	nodes, err := s.inventory.Nodes(callCtx)
	if err != nil {
		s.metrics.InventoryErrors.Inc()
		s.log.WithError(err).Warn("Failed to read inventory, retrying next cycle")
		return nil, nil, err
	}

	s.metrics.PendingPods.Set(float64(len(pods)))
	if len(nodes) == 0 {
		s.metrics.NoNodes.Inc()
		s.log.Warn("No available nodes for scheduling")
	}
	return pods, nodes, nil
}

func (s *Scheduler) plan(ctx context.Context, pods []*model.Pod, nodes []*model.Node) *Result {
	start := time.Now()
	cycle := &Cycle{
		Pods:     pods,
		Nodes:    nodes,
		Binder:   &committer{s: s},
		Reporter: &committer{s: s},
		Refresh:  s.refreshNodes,
	}

	result := s.policy.Schedule(ctx, cycle)

	policy := s.policy.Name()
	s.metrics.Passes.WithLabelValues(policy).Inc()
	s.metrics.PassDuration.WithLabelValues(policy).Observe(time.Since(start).Seconds())
	if len(pods) > 0 {
		s.log.Infof("Pass done: %d pending, %d bound, %d failed, %d unplaceable, %d skipped",
			len(pods), len(result.Bound), len(result.Failed), len(result.Unplaceable), len(result.Skipped))
	}
	return result
}

func (s *Scheduler) refreshNodes(ctx context.Context) ([]*model.Node, error) {
	callCtx, cancel := s.callContext(ctx)
	defer cancel()
	nodes, err := s.inventory.Nodes(callCtx)
	if err != nil {
		s.metrics.InventoryErrors.Inc()
	}
	return nodes, err
}

func (s *Scheduler) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.CallTimeout > 0 {
		return context.WithTimeout(ctx, s.config.CallTimeout)
	}
	return context.WithCancel(ctx)
}

// committer is what policies see as their Binder and Reporter. Each call
// is the COMMIT phase of the loop.
type committer struct {
	s *Scheduler
}

func (c *committer) Bind(ctx context.Context, pod *model.Pod, nodeName string) error {
	s := c.s
	s.setPhase(PhaseCommit)
	defer s.setPhase(PhasePlan)

	callCtx, cancel := s.callContext(ctx)
	defer cancel()

	policy := s.policy.Name()
	if err := s.cp.Bind(callCtx, pod, nodeName); err != nil {
		s.metrics.Bindings.WithLabelValues(policy, "failure").Inc()
		s.log.WithError(err).Warnf("Failed to assign %s to %s", pod.Key(), nodeName)
		return err
	}
	s.metrics.Bindings.WithLabelValues(policy, "success").Inc()
	s.log.Infof("Successfully assigned %s to %s", pod.Key(), nodeName)
	return nil
}

func (c *committer) Unplaceable(ctx context.Context, pod *model.Pod, reason string) {
	s := c.s
	s.metrics.Unplaceable.WithLabelValues(s.policy.Name()).Inc()

	callCtx, cancel := s.callContext(ctx)
	defer cancel()
	s.cp.ReportUnschedulable(callCtx, pod, reason)
}
