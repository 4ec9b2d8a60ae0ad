package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"drfsched/internal/scheduler"
	"drfsched/pkg/model"
	"drfsched/pkg/store"
)

var VERSION = "dev"

// 并发控制 (信号量)，同时最多 50 个协程在提交
const maxConcurrentSubmits = 50

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	a := cli.NewApp()
	a.Version = VERSION
	a.Usage = "Submit and inspect pods on the etcd control plane"

	a.Before = func(c *cli.Context) error {
		if c.GlobalBool("debug") {
			logrus.SetLevel(logrus.DebugLevel)
		}
		return nil
	}

	a.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:   "debug, d",
			Usage:  "enable debug logging level",
			EnvVar: "DRFSCHED_DEBUG",
		},
		cli.StringFlag{
			Name:   "etcd-endpoints",
			Value:  "localhost:2379",
			Usage:  "comma separated etcd endpoints",
			EnvVar: "DRFSCHED_ETCD_ENDPOINTS",
		},
		cli.StringFlag{
			Name:   "namespace",
			Value:  "workload",
			Usage:  "pod namespace",
			EnvVar: "DRFSCHED_NAMESPACE",
		},
		cli.DurationFlag{
			Name:  "timeout",
			Value: 5 * time.Second,
			Usage: "timeout of each etcd call",
		},
	}
	a.Commands = []cli.Command{
		submitCmd(),
		getCmd(),
		logsCmd(),
		nodesCmd(),
	}

	if err := a.Run(os.Args); err != nil {
		logrus.Fatalf("Critical error: %v", err)
	}
}

func openStore(c *cli.Context) (*store.EtcdStore, error) {
	return store.NewEtcdStore(strings.Split(c.GlobalString("etcd-endpoints"), ","), c.GlobalString("namespace"), "")
}

func submitCmd() cli.Command {
	return cli.Command{
		Name:  "submit",
		Usage: "submit pending pods",
		Flags: []cli.Flag{
			cli.IntFlag{
				Name:  "n",
				Value: 1,
				Usage: "number of pods to submit",
			},
			cli.StringFlag{
				Name:  "name",
				Value: "pod",
				Usage: "pod name prefix",
			},
			cli.StringFlag{
				Name:  "cpu",
				Value: "100m",
				Usage: "cpu request of each pod",
			},
			cli.StringFlag{
				Name:  "memory",
				Value: "10Mi",
				Usage: "memory request of each pod",
			},
			cli.StringFlag{
				Name:  "image",
				Usage: "container image",
			},
			cli.StringFlag{
				Name:  "command",
				Value: "echo started; sleep 1; echo finished",
				Usage: "shell command the pod runs",
			},
			cli.StringFlag{
				Name:  "scheduler-name",
				Value: scheduler.PolicyDRF,
				Usage: "scheduler that should place the pods",
			},
		},
		Action: func(c *cli.Context) {
			if err := submit(c); err != nil {
				logrus.Fatalf("Failed to submit pods: %v", err)
			}
		},
	}
}

func submit(c *cli.Context) error {
	count := c.Int("n")
	if count < 1 {
		return errors.Errorf("invalid pod count %d", count)
	}
	requests, err := model.ParseResource(c.String("cpu"), c.String("memory"))
	if err != nil {
		return err
	}

	s, err := openStore(c)
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Printf("🚀 Submitting %d pods (%dm cpu, %dMi memory each)...\n", count, requests.MilliCPU, requests.MemoryMiB)

	var (
		wg     sync.WaitGroup
		failed int64
		sem    = make(chan struct{}, maxConcurrentSubmits)
		start  = time.Now()
	)
	for i := 0; i < count; i++ {
		sem <- struct{}{}
		wg.Add(1)
		go func(id int) {
			defer func() {
				<-sem
				wg.Done()
			}()

			uid := uuid.New().String()
			pod := &model.Pod{
				Name:          fmt.Sprintf("%s-%s", c.String("name"), uid[:8]),
				Namespace:     c.GlobalString("namespace"),
				UID:           uid,
				SchedulerName: c.String("scheduler-name"),
				Requests:      requests,
			}
			pod.Spec.Image = c.String("image")
			pod.Spec.Command = []string{"sh", "-c", c.String("command")}
			pod.Status.Phase = model.PodPending

			ctx, cancel := context.WithTimeout(context.Background(), c.GlobalDuration("timeout"))
			defer cancel()
			if err := s.CreatePod(ctx, pod); err != nil {
				atomic.AddInt64(&failed, 1)
				fmt.Printf("❌ Failed to submit pod %s: %v\n", pod.Key(), err)
				return
			}
			if count == 1 {
				fmt.Printf("✅ Pod submitted: %s\n", pod.Key())
				fmt.Printf("💡 View logs later with: drfctl logs %s\n", pod.Name)
			} else if id%50 == 0 {
				fmt.Printf("-> Submitted batch around index %d...\n", id)
			}
		}(i)
	}
	wg.Wait()

	if count > 1 {
		duration := time.Since(start)
		fmt.Printf("\n✅ Submitted %d/%d pods in %v (%.2f pods/s)\n",
			int64(count)-failed, count, duration, float64(count)/duration.Seconds())
	}
	if failed > 0 {
		return errors.Errorf("%d pods failed to submit", failed)
	}
	return nil
}

func getCmd() cli.Command {
	return cli.Command{
		Name:      "get",
		Usage:     "show a pod",
		ArgsUsage: "<pod name>",
		Action: func(c *cli.Context) {
			if err := getPod(c); err != nil {
				logrus.Fatalf("Failed to get pod: %v", err)
			}
		},
	}
}

func getPod(c *cli.Context) error {
	name := c.Args().First()
	if name == "" {
		return errors.New("pod name is required")
	}
	s, err := openStore(c)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), c.GlobalDuration("timeout"))
	defer cancel()
	pod, err := s.GetPod(ctx, c.GlobalString("namespace"), name)
	if err != nil {
		return err
	}

	node := pod.NodeName
	if node == "" {
		node = "<none>"
	}
	fmt.Printf("Name:      %s\n", pod.Key())
	fmt.Printf("Scheduler: %s\n", pod.SchedulerName)
	fmt.Printf("Node:      %s\n", node)
	fmt.Printf("Requests:  %dm cpu, %dMi memory\n", pod.Requests.MilliCPU, pod.Requests.MemoryMiB)
	fmt.Printf("Phase:     %s\n", pod.Status.Phase)
	if pod.Status.Message != "" {
		fmt.Printf("Message:   %s\n", pod.Status.Message)
	}
	return nil
}

func logsCmd() cli.Command {
	return cli.Command{
		Name:      "logs",
		Usage:     "print the output of a finished pod",
		ArgsUsage: "<pod name>",
		Action: func(c *cli.Context) {
			if err := printLogs(c); err != nil {
				logrus.Fatalf("Failed to get logs: %v", err)
			}
		},
	}
}

func printLogs(c *cli.Context) error {
	name := c.Args().First()
	if name == "" {
		return errors.New("pod name is required")
	}
	s, err := openStore(c)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), c.GlobalDuration("timeout"))
	defer cancel()
	logs, err := s.GetLog(ctx, c.GlobalString("namespace"), name)
	if err != nil {
		return err
	}

	fmt.Printf("\n📄 Logs for pod [%s]:\n", name)
	fmt.Println("================================================")
	fmt.Println(logs)
	fmt.Println("================================================")
	return nil
}

func nodesCmd() cli.Command {
	return cli.Command{
		Name:  "nodes",
		Usage: "list ready nodes",
		Action: func(c *cli.Context) {
			if err := listNodes(c); err != nil {
				logrus.Fatalf("Failed to list nodes: %v", err)
			}
		},
	}
}

func listNodes(c *cli.Context) error {
	s, err := openStore(c)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), c.GlobalDuration("timeout"))
	defer cancel()
	nodes, err := s.ListNodes(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("%-20s %-10s %-12s %s\n", "NAME", "CPU", "MEMORY", "LAST HEARTBEAT")
	for _, n := range nodes {
		fmt.Printf("%-20s %-10s %-12s %s\n", n.Name,
			fmt.Sprintf("%dm", n.Allocatable.MilliCPU),
			fmt.Sprintf("%dMi", n.Allocatable.MemoryMiB),
			time.Unix(n.LastHeartbeat, 0).Format(time.RFC3339))
	}
	return nil
}
