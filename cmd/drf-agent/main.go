package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"drfsched/internal/worker"
	"drfsched/internal/worker/executor"
	"drfsched/pkg/model"
	"drfsched/pkg/store"
)

var VERSION = "dev"

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	hostname, _ := os.Hostname()

	a := cli.NewApp()
	a.Version = VERSION
	a.Usage = "Node agent running pods bound through etcd"

	a.Before = func(c *cli.Context) error {
		if c.GlobalBool("debug") {
			logrus.SetLevel(logrus.DebugLevel)
		}
		if c.GlobalBool("log-json") {
			logrus.SetFormatter(&logrus.JSONFormatter{})
		}
		return nil
	}

	a.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:   "debug, d",
			Usage:  "enable debug logging level",
			EnvVar: "DRFSCHED_DEBUG",
		},
		cli.BoolFlag{
			Name:   "log-json, j",
			Usage:  "log in json format",
			EnvVar: "DRFSCHED_LOG_JSON",
		},
		cli.StringFlag{
			Name:   "etcd-endpoints",
			Value:  "localhost:2379",
			Usage:  "comma separated etcd endpoints",
			EnvVar: "DRFSCHED_ETCD_ENDPOINTS",
		},
		cli.StringFlag{
			Name:   "node-name",
			Value:  hostname,
			Usage:  "name this node registers under",
			EnvVar: "DRFSCHED_NODE_NAME",
		},
		cli.StringFlag{
			Name:  "cpu",
			Usage: "allocatable cpu, e.g. 4 or 3500m; taken from docker when empty",
		},
		cli.StringFlag{
			Name:  "memory",
			Usage: "allocatable memory, e.g. 8Gi; taken from docker when empty",
		},
	}
	a.Action = func(c *cli.Context) {
		if err := runAgent(c); err != nil {
			logrus.Fatalf("Error starting agent: %v", err)
		}
	}

	if err := a.Run(os.Args); err != nil {
		logrus.Fatalf("Critical error: %v", err)
	}
}

func runAgent(c *cli.Context) error {
	name := c.String("node-name")
	if name == "" {
		return errors.New("require node-name")
	}

	exec, err := executor.NewDockerExecutor()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	capacity, err := model.ParseResource(c.String("cpu"), c.String("memory"))
	if err != nil {
		return errors.Wrap(err, "invalid node capacity")
	}
	if capacity.MilliCPU == 0 || capacity.MemoryMiB == 0 {
		detected, err := exec.Capacity(ctx)
		if err != nil {
			return err
		}
		if capacity.MilliCPU == 0 {
			capacity.MilliCPU = detected.MilliCPU
		}
		if capacity.MemoryMiB == 0 {
			capacity.MemoryMiB = detected.MemoryMiB
		}
	}

	etcdStore, err := store.NewEtcdStore(strings.Split(c.String("etcd-endpoints"), ","), "", "")
	if err != nil {
		return err
	}
	defer etcdStore.Close()

	worker.NewAgent(etcdStore, exec, name, capacity).Run(ctx)
	logrus.Info("Shutting down agent")
	return nil
}
