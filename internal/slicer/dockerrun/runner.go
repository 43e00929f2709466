// Package dockerrun runs the slicing engine inside a container, for hosts that do not
// have the slicer installed. The estimator's work directory and configuration profile
// are bind-mounted into the container, and host paths in the command line are
// rewritten to their mount points.
package dockerrun

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"giftforge/internal/config"
	"giftforge/internal/slicer"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// MountPoint is where the work directory appears inside the container.
const MountPoint = "/work"

// ProfilePoint is where the configuration profile appears inside the container.
const ProfilePoint = "/config/profile.ini"

// containerAPI is the subset of the Docker client the runner uses.
type containerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	Ping(ctx context.Context) (types.Ping, error)
}

// Config holds container settings.
type Config struct {
	Image    string
	User     string  // uid:gid so output files belong to the service user
	CPU      float64 // cores, 0 for no limit
	MemoryMB int64   // 0 for no limit
}

// LoadConfigFromEnv loads container settings from environment variables.
func LoadConfigFromEnv() Config {
	return Config{
		Image:    config.GetEnv("SLICER_IMAGE", ""),
		User:     config.GetEnv("SLICER_USER", ""),
		CPU:      config.GetFloatEnv("SLICER_CPU", 0),
		MemoryMB: int64(config.GetIntEnv("SLICER_MEMORY_MB", 0)),
	}
}

// Runner implements slicer.Runner with one short-lived container per invocation.
type Runner struct {
	api containerAPI
	cfg Config
}

// New connects to the Docker daemon from the environment.
func New(cfg Config) (*Runner, error) {
	if cfg.Image == "" {
		return nil, fmt.Errorf("dockerrun: image is required")
	}
	c, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Runner{api: c, cfg: cfg}, nil
}

// Ready checks that the Docker daemon answers.
func (r *Runner) Ready(ctx context.Context) error {
	_, err := r.api.Ping(ctx)
	return err
}

// Run executes cmd in a fresh container and removes the container afterwards.
func (r *Runner) Run(ctx context.Context, cmd slicer.Command) (slicer.Output, error) {
	logger := slog.With("component", "dockerrun", "image", r.cfg.Image)

	id, err := r.create(ctx, cmd)
	if err != nil {
		return slicer.Output{}, fmt.Errorf("failed to create slicer container: %w", err)
	}
	defer r.remove(ctx, id)

	if err := r.api.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return slicer.Output{}, fmt.Errorf("failed to start slicer container: %w", err)
	}

	exitCode, waitErr := r.waitForExit(ctx, id)
	out := r.collectLogs(ctx, id)
	if waitErr != nil {
		logger.Warn("Slicer container did not exit cleanly", "containerId", id, "error", waitErr)
		return out, waitErr
	}
	if exitCode != 0 {
		return out, &slicer.ExitError{Code: exitCode}
	}
	return out, nil
}

func (r *Runner) create(ctx context.Context, cmd slicer.Command) (string, error) {
	containerConfig := &container.Config{
		Image:      r.cfg.Image,
		Entrypoint: []string{cmd.Path},
		Cmd:        rewriteArgs(cmd.Args, cmd.Dir, cmd.Profile),
		WorkingDir: MountPoint,
		User:       r.cfg.User,
		Labels: map[string]string{
			"managed-by": "giftforge",
			"job.type":   "slicer",
		},
	}
	mounts := []mount.Mount{
		{
			Type:   mount.TypeBind,
			Source: cmd.Dir,
			Target: MountPoint,
		},
	}
	if cmd.Profile != "" {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   cmd.Profile,
			Target:   ProfilePoint,
			ReadOnly: true,
		})
	}
	hostConfig := &container.HostConfig{
		Mounts: mounts,
		Resources: container.Resources{
			NanoCPUs: int64(r.cfg.CPU * 1e9),
			Memory:   r.cfg.MemoryMB * 1024 * 1024,
		},
	}

	resp, err := r.api.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, "")
	if cerrdefs.IsNotFound(err) {
		if pullErr := r.pull(ctx); pullErr != nil {
			return "", pullErr
		}
		resp, err = r.api.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, "")
	}
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (r *Runner) pull(ctx context.Context) error {
	slog.Info("Pulling slicer image", "image", r.cfg.Image)
	reader, err := r.api.ImagePull(ctx, r.cfg.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull %s: %w", r.cfg.Image, err)
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

func (r *Runner) waitForExit(ctx context.Context, containerID string) (int, error) {
	statusCh, errCh := r.api.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)

	select {
	case <-ctx.Done():
		return -1, ctx.Err()
	case err := <-errCh:
		return -1, err
	case status := <-statusCh:
		if status.Error != nil {
			return int(status.StatusCode), fmt.Errorf("%s", status.Error.Message)
		}
		return int(status.StatusCode), nil
	}
}

// collectLogs reads the finished container's demultiplexed output.
func (r *Runner) collectLogs(ctx context.Context, containerID string) slicer.Output {
	logs, err := r.api.ContainerLogs(context.WithoutCancel(ctx), containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		slog.Debug("Failed to read slicer logs", "containerId", containerID, "error", err)
		return slicer.Output{}
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		slog.Debug("Slicer log stream ended early", "containerId", containerID, "error", err)
	}
	return slicer.Output{Stdout: stdout.String(), Stderr: stderr.String()}
}

func (r *Runner) remove(ctx context.Context, containerID string) {
	if err := r.api.ContainerRemove(context.WithoutCancel(ctx), containerID, container.RemoveOptions{Force: true}); err != nil {
		slog.Warn("Failed to remove slicer container", "containerId", containerID, "error", err)
	}
}

// rewriteArgs maps host paths under dir and the profile path to their mount points.
func rewriteArgs(args []string, dir, profile string) []string {
	out := make([]string, len(args))
	prefix := strings.TrimRight(dir, "/") + "/"
	for i, a := range args {
		switch {
		case profile != "" && a == profile:
			a = ProfilePoint
		case dir != "" && strings.HasPrefix(a, prefix):
			a = MountPoint + "/" + strings.TrimPrefix(a, prefix)
		}
		out[i] = a
	}
	return out
}
