package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"k8s.io/client-go/kubernetes"

	"drfsched/internal/scheduler"
	"drfsched/pkg/store"
)

var VERSION = "dev"

const (
	BackendKube = "kube"
	BackendEtcd = "etcd"

	FlagBackend       = "backend"
	FlagKubeConfig    = "kubeconfig"
	FlagEtcdEndpoints = "etcd-endpoints"
	FlagNamespace     = "namespace"
	FlagSchedulerName = "scheduler-name"
	FlagPolicy        = "policy"
	FlagReservedNode  = "reserved-node"
	FlagInterval      = "interval"
	FlagCallTimeout   = "call-timeout"
	FlagMetricsAddr   = "metrics-addr"
)

func cmdNotFound(c *cli.Context, command string) {
	panic(fmt.Errorf("unrecognized command: %s", command))
}

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	a := cli.NewApp()
	a.Version = VERSION
	a.Usage = "DRF pod scheduler"

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
			Name:   FlagBackend,
			Value:  BackendKube,
			Usage:  "control plane to schedule against: kube or etcd",
			EnvVar: "DRFSCHED_BACKEND",
		},
		cli.StringFlag{
			Name:   FlagKubeConfig,
			Usage:  "path to a kubeconfig, in-cluster config is used when empty",
			EnvVar: "KUBECONFIG",
		},
		cli.StringFlag{
			Name:   FlagEtcdEndpoints,
			Value:  "localhost:2379",
			Usage:  "comma separated etcd endpoints",
			EnvVar: "DRFSCHED_ETCD_ENDPOINTS",
		},
		cli.StringFlag{
			Name:   FlagNamespace,
			Value:  "workload",
			Usage:  "namespace to take pending pods from",
			EnvVar: "DRFSCHED_NAMESPACE",
		},
		cli.StringFlag{
			Name:   FlagSchedulerName,
			Usage:  "schedulerName pods must carry, defaults to the policy name",
			EnvVar: "DRFSCHED_SCHEDULER_NAME",
		},
		cli.StringFlag{
			Name:   FlagPolicy,
			Value:  scheduler.PolicyDRF,
			Usage:  fmt.Sprintf("placement policy: %s or %s", scheduler.PolicyDRF, scheduler.PolicyGreedyCPU),
			EnvVar: "DRFSCHED_POLICY",
		},
		cli.StringFlag{
			Name:   FlagReservedNode,
			Value:  scheduler.DefaultReservedNode,
			Usage:  "node that never receives pods",
			EnvVar: "DRFSCHED_RESERVED_NODE",
		},
		cli.DurationFlag{
			Name:   FlagInterval,
			Value:  scheduler.DefaultInterval,
			Usage:  "pause between scheduling passes",
			EnvVar: "DRFSCHED_INTERVAL",
		},
		cli.DurationFlag{
			Name:   FlagCallTimeout,
			Value:  scheduler.DefaultCallTimeout,
			Usage:  "timeout of a single control plane call, 0 disables it",
			EnvVar: "DRFSCHED_CALL_TIMEOUT",
		},
		cli.StringFlag{
			Name:   FlagMetricsAddr,
			Value:  ":9090",
			Usage:  "address to serve /metrics on, empty disables it",
			EnvVar: "DRFSCHED_METRICS_ADDR",
		},
	}
	a.Action = func(c *cli.Context) {
		if err := runScheduler(c); err != nil {
			logrus.Fatalf("Error starting scheduler: %v", err)
		}
	}
	a.CommandNotFound = cmdNotFound

	if err := a.Run(os.Args); err != nil {
		logrus.Fatalf("Critical error: %v", err)
	}
}

func runScheduler(c *cli.Context) error {
	policy, err := scheduler.NewPolicy(c.String(FlagPolicy))
	if err != nil {
		return err
	}

	schedulerName := c.String(FlagSchedulerName)
	if schedulerName == "" {
		schedulerName = policy.Name()
	}
	config := scheduler.Config{
		SchedulerName: schedulerName,
		ReservedNode:  c.String(FlagReservedNode),
		Interval:      c.Duration(FlagInterval),
		CallTimeout:   c.Duration(FlagCallTimeout),
	}
	if err := config.Validate(); err != nil {
		return err
	}

	namespace := c.String(FlagNamespace)
	var cp store.ControlPlane
	switch backend := c.String(FlagBackend); backend {
	case BackendKube:
		restConfig, err := store.GetClientConfig(c.String(FlagKubeConfig))
		if err != nil {
			return errors.Wrap(err, "unable to get client config")
		}
		client, err := kubernetes.NewForConfig(restConfig)
		if err != nil {
			return errors.Wrap(err, "unable to get clientset")
		}
		recorder, broadcaster := store.NewEventRecorder(client, schedulerName)
		defer broadcaster.Shutdown()
		cp = store.NewKubeStore(client, recorder, namespace, schedulerName)
	case BackendEtcd:
		endpoints := strings.Split(c.String(FlagEtcdEndpoints), ",")
		etcdStore, err := store.NewEtcdStore(endpoints, namespace, schedulerName)
		if err != nil {
			return err
		}
		defer etcdStore.Close()
		cp = etcdStore
	default:
		return errors.Errorf("unknown backend %q", backend)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := scheduler.NewMetrics(registry)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if addr := c.String(FlagMetricsAddr); addr != "" {
		server := &http.Server{
			Addr:              addr,
			Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logrus.WithError(err).Error("Metrics server stopped")
			}
		}()
		defer server.Close()
	}

	logrus.Infof("Starting %s scheduler %q on namespace %s", policy.Name(), schedulerName, namespace)
	scheduler.NewScheduler(cp, policy, config, metrics).Run(ctx)
	logrus.Info("Shutting down scheduler")
	return nil
}
