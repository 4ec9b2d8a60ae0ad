package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/pkg/errors"

	"drfsched/pkg/model"

	clientv3 "go.etcd.io/etcd/client/v3"

	. "gopkg.in/check.v1"
)

const (
	EnvEtcdServer = "DRFSCHED_TEST_ETCD_SERVER"

	TestEtcdNamespace = "drfsched-test"
)

func Test(t *testing.T) { TestingT(t) }

type EtcdSuite struct {
	store *EtcdStore
}

var _ = Suite(&EtcdSuite{})

func (s *EtcdSuite) SetUpTest(c *C) {
	server := os.Getenv(EnvEtcdServer)
	if server == "" {
		c.Skip(EnvEtcdServer + " is not set")
	}

	var err error
	s.store, err = NewEtcdStore([]string{server}, TestEtcdNamespace, TestSchedulerName)
	c.Assert(err, IsNil)
	s.nuke(c)
}

func (s *EtcdSuite) TearDownTest(c *C) {
	if s.store == nil {
		return
	}
	s.nuke(c)
	c.Assert(s.store.Close(), IsNil)
	s.store = nil
}

func (s *EtcdSuite) nuke(c *C) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.store.client.Delete(ctx, "/drfsched/", clientv3.WithPrefix())
	c.Assert(err, IsNil)
}

func newTestPod(name, schedulerName string, cpu, memoryMiB int64) *model.Pod {
	pod := &model.Pod{
		Name:          name,
		Namespace:     TestEtcdNamespace,
		SchedulerName: schedulerName,
		Requests:      model.Resource{MilliCPU: cpu, MemoryMiB: memoryMiB},
	}
	pod.Status.Phase = model.PodPending
	return pod
}

func (s *EtcdSuite) TestListPendingPods(c *C) {
	ctx := context.Background()

	c.Assert(s.store.CreatePod(ctx, newTestPod("a", TestSchedulerName, 100, 10)), IsNil)
	c.Assert(s.store.CreatePod(ctx, newTestPod("b", "greedy-cpu", 100, 10)), IsNil)
	bound := newTestPod("c", TestSchedulerName, 100, 10)
	bound.NodeName = "node-1"
	c.Assert(s.store.CreatePod(ctx, bound), IsNil)

	pods, err := s.store.ListPendingPods(ctx)
	c.Assert(err, IsNil)
	c.Assert(pods, HasLen, 1)
	c.Assert(pods[0].Name, Equals, "a")
	c.Assert(pods[0].Requests, DeepEquals, model.Resource{MilliCPU: 100, MemoryMiB: 10})
}

func (s *EtcdSuite) TestCreatePodTwice(c *C) {
	ctx := context.Background()
	c.Assert(s.store.CreatePod(ctx, newTestPod("a", TestSchedulerName, 1, 1)), IsNil)
	c.Assert(s.store.CreatePod(ctx, newTestPod("a", TestSchedulerName, 1, 1)), NotNil)
}

func newTestNode(name string, status model.NodeStatus, heartbeat time.Time) *model.Node {
	return &model.Node{
		Name:          name,
		Status:        status,
		Allocatable:   model.Resource{MilliCPU: 4000, MemoryMiB: 4096},
		LastHeartbeat: heartbeat.Unix(),
	}
}

func (s *EtcdSuite) TestListNodesSkipsOffline(c *C) {
	ctx := context.Background()
	c.Assert(s.store.RegisterNode(ctx, newTestNode("node-1", model.NodeReady, time.Now())), IsNil)
	c.Assert(s.store.RegisterNode(ctx, newTestNode("node-2", model.NodeOffline, time.Now())), IsNil)

	nodes, err := s.store.ListNodes(ctx)
	c.Assert(err, IsNil)
	c.Assert(nodes, HasLen, 1)
	c.Assert(nodes[0].Name, Equals, "node-1")
	c.Assert(nodes[0].Allocatable, DeepEquals, model.Resource{MilliCPU: 4000, MemoryMiB: 4096})
}

func (s *EtcdSuite) TestListNodesSkipsStaleHeartbeat(c *C) {
	ctx := context.Background()
	now := time.Unix(1700000000, 0)
	s.store.now = func() time.Time { return now }

	c.Assert(s.store.RegisterNode(ctx, newTestNode("alive", model.NodeReady, now.Add(-3*time.Second))), IsNil)
	c.Assert(s.store.RegisterNode(ctx, newTestNode("killed", model.NodeReady, now.Add(-time.Minute))), IsNil)
	c.Assert(s.store.RegisterNode(ctx, &model.Node{Name: "never-beat", Status: model.NodeReady}), IsNil)

	nodes, err := s.store.ListNodes(ctx)
	c.Assert(err, IsNil)
	c.Assert(nodes, HasLen, 1)
	c.Assert(nodes[0].Name, Equals, "alive")

	// the dead agent's node comes back once it heartbeats again
	c.Assert(s.store.RegisterNode(ctx, newTestNode("killed", model.NodeReady, now)), IsNil)
	nodes, err = s.store.ListNodes(ctx)
	c.Assert(err, IsNil)
	c.Assert(nodes, HasLen, 2)
}

func (s *EtcdSuite) TestBind(c *C) {
	ctx := context.Background()
	pod := newTestPod("a", TestSchedulerName, 100, 10)
	c.Assert(s.store.CreatePod(ctx, pod), IsNil)

	err := s.store.Bind(ctx, pod, "node-1")
	c.Assert(errors.Cause(err), Equals, ErrNotFound)

	c.Assert(s.store.RegisterNode(ctx, newTestNode("node-1", model.NodeReady, time.Now())), IsNil)
	c.Assert(s.store.Bind(ctx, pod, "node-1"), IsNil)

	got, err := s.store.GetPod(ctx, TestEtcdNamespace, "a")
	c.Assert(err, IsNil)
	c.Assert(got.NodeName, Equals, "node-1")
	c.Assert(got.Status.Phase, Equals, model.PodScheduled)

	err = s.store.Bind(ctx, pod, "node-1")
	c.Assert(errors.Cause(err), Equals, ErrAlreadyBound)
}

func (s *EtcdSuite) TestReportUnschedulable(c *C) {
	ctx := context.Background()
	pod := newTestPod("a", TestSchedulerName, 100, 10)
	c.Assert(s.store.CreatePod(ctx, pod), IsNil)

	s.store.ReportUnschedulable(ctx, pod, "insufficient cpu")

	got, err := s.store.GetPod(ctx, TestEtcdNamespace, "a")
	c.Assert(err, IsNil)
	c.Assert(got.Status.Message, Equals, "insufficient cpu")
	c.Assert(got.NodeName, Equals, "")
}

func (s *EtcdSuite) TestReportUnschedulableKeepsConcurrentWrite(c *C) {
	ctx := context.Background()
	pod := newTestPod("a", TestSchedulerName, 100, 10)
	c.Assert(s.store.CreatePod(ctx, pod), IsNil)

	stale, revision, err := s.store.getPod(ctx, podKey(TestEtcdNamespace, "a"))
	c.Assert(err, IsNil)

	// the agent or another scheduler writes in between
	bound := *stale
	bound.NodeName = "node-1"
	bound.Status.Phase = model.PodScheduled
	c.Assert(s.store.UpdatePod(ctx, &bound), IsNil)

	stale.Status.Message = "insufficient cpu"
	updated, err := s.store.putPodIfUnchanged(ctx, stale, revision)
	c.Assert(err, IsNil)
	c.Assert(updated, Equals, false)

	s.store.ReportUnschedulable(ctx, pod, "insufficient cpu")

	got, err := s.store.GetPod(ctx, TestEtcdNamespace, "a")
	c.Assert(err, IsNil)
	c.Assert(got.NodeName, Equals, "node-1")
	c.Assert(got.Status.Phase, Equals, model.PodScheduled)
	c.Assert(got.Status.Message, Equals, "")
}

func (s *EtcdSuite) TestListBoundPodsThenWatch(c *C) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	other := newTestPod("other", TestSchedulerName, 100, 10)
	other.Namespace = "elsewhere"
	other.NodeName = "node-1"
	c.Assert(s.store.CreatePod(ctx, other), IsNil)
	c.Assert(s.store.CreatePod(ctx, newTestPod("pending", TestSchedulerName, 100, 10)), IsNil)

	pods, revision, err := s.store.ListBoundPods(ctx, "node-1")
	c.Assert(err, IsNil)
	c.Assert(pods, HasLen, 1)
	c.Assert(pods[0].Key(), Equals, "elsewhere/other")

	// written after the list but before the watch starts
	late := newTestPod("late", TestSchedulerName, 100, 10)
	late.NodeName = "node-1"
	c.Assert(s.store.CreatePod(ctx, late), IsNil)

	select {
	case ev := <-s.store.WatchPods(ctx, revision):
		c.Assert(ev.Type, Equals, PodPut)
		c.Assert(ev.Pod.Name, Equals, "late")
	case <-time.After(5 * time.Second):
		c.Fatal("timed out waiting for pod event")
	}
}

func (s *EtcdSuite) TestLogs(c *C) {
	ctx := context.Background()
	pod := newTestPod("a", TestSchedulerName, 100, 10)

	_, err := s.store.GetLog(ctx, TestEtcdNamespace, "a")
	c.Assert(errors.Cause(err), Equals, ErrNotFound)

	c.Assert(s.store.SaveLog(ctx, pod, "hello\n"), IsNil)
	logs, err := s.store.GetLog(ctx, TestEtcdNamespace, "a")
	c.Assert(err, IsNil)
	c.Assert(logs, Equals, "hello\n")
}

func (s *EtcdSuite) TestWatchPods(c *C) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := s.store.WatchPods(ctx, 0)
	// Watch registration is asynchronous; give it a moment.
	time.Sleep(200 * time.Millisecond)

	c.Assert(s.store.CreatePod(context.Background(), newTestPod("a", TestSchedulerName, 100, 10)), IsNil)

	select {
	case ev := <-events:
		c.Assert(ev.Type, Equals, PodPut)
		c.Assert(ev.Pod.Name, Equals, "a")
	case <-time.After(5 * time.Second):
		c.Fatal("timed out waiting for pod event")
	}
}
