package executor

import (
	"bytes"
	"context"
	"io"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"drfsched/pkg/model"
)

const DefaultImage = "alpine:latest"

type DockerExecutor struct {
	cli *client.Client
	log logrus.FieldLogger
}

// NewDockerExecutor 自动从环境变量或默认路径连接本地 Docker
func NewDockerExecutor() (*DockerExecutor, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errors.Wrap(err, "failed to create docker client")
	}
	return &DockerExecutor{cli: cli, log: logrus.WithField("component", "docker")}, nil
}

// Capacity reports the CPUs and memory the docker daemon sees.
func (e *DockerExecutor) Capacity(ctx context.Context) (model.Resource, error) {
	info, err := e.cli.Info(ctx)
	if err != nil {
		return model.Resource{}, errors.Wrap(err, "failed to get docker info")
	}
	return model.Resource{
		MilliCPU:  int64(info.NCPU) * 1000,
		MemoryMiB: info.MemTotal / (1 << 20),
	}, nil
}

// Run creates a container limited to the pod's requests, waits for it and
// returns its combined output and exit code.
func (e *DockerExecutor) Run(ctx context.Context, pod *model.Pod) (string, int, error) {
	image := pod.Spec.Image
	if image == "" {
		image = DefaultImage
	}
	log := e.log.WithField("pod", pod.Key())

	// 1. 拉取镜像 (Pull Image)，本地已有时可以失败
	if reader, err := e.cli.ImagePull(ctx, image, types.ImagePullOptions{}); err != nil {
		log.WithError(err).Warnf("Failed to pull image %s, trying local copy", image)
	} else {
		_, _ = io.Copy(io.Discard, reader)
		reader.Close()
	}

	// 2. 创建容器 (Create Container)
	resp, err := e.cli.ContainerCreate(ctx,
		&container.Config{
			Image: image,
			Cmd:   pod.Spec.Command,
			Env:   pod.Spec.Envs,
			Tty:   false,
		},
		&container.HostConfig{
			Resources: container.Resources{
				NanoCPUs: pod.Requests.MilliCPU * 1_000_000,
				Memory:   pod.Requests.MemoryMiB * (1 << 20),
			},
		}, nil, nil, "")
	if err != nil {
		return "", -1, errors.Wrapf(err, "failed to create container for pod %s", pod.Key())
	}
	containerID := resp.ID
	defer func() {
		// 清理容器 (Remove)
		if err := e.cli.ContainerRemove(context.Background(), containerID, types.ContainerRemoveOptions{Force: true}); err != nil {
			log.WithError(err).Warnf("Failed to remove container %s", containerID[:12])
		}
	}()

	// 3. 启动容器 (Start Container)
	if err := e.cli.ContainerStart(ctx, containerID, types.ContainerStartOptions{}); err != nil {
		return "", -1, errors.Wrapf(err, "failed to start container %s", containerID[:12])
	}
	log.Infof("Container %s started", containerID[:12])

	// 4. 等待容器结束 (Wait)
	exitCode := -1
	statusCh, errCh := e.cli.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return "", -1, errors.Wrapf(err, "failed to wait for container %s", containerID[:12])
		}
	case status := <-statusCh:
		exitCode = int(status.StatusCode)
	}

	// 5. 获取日志 (Logs)
	outReader, err := e.cli.ContainerLogs(ctx, containerID, types.ContainerLogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", exitCode, errors.Wrapf(err, "failed to get logs of container %s", containerID[:12])
	}
	defer outReader.Close()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, outReader); err != nil {
		return "", exitCode, errors.Wrap(err, "failed to demultiplex container logs")
	}
	return buf.String(), exitCode, nil
}
