/*
Package docker is the thin capability interface the reconciler drives:
run, stop, remove, restart, inspect, list_running. It wraps the real
Docker Engine API client rather than containerd, since the reservation
platform this module implements names Docker explicitly as its effector.
*/
package docker

import (
	"context"
	"fmt"
	"strings"
	"time"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/logging"
)

// ContainerNamePrefix is the prefix every reservation-backed container is
// given, used by the orphan sweep to find Docker-visible containers the
// Store doesn't know about.
const ContainerNamePrefix = "reservation-"

const callTimeout = 10 * time.Second

// Mount is a bind or tmpfs mount to materialize into a launched container.
// Source is empty for a tmpfs mount.
type Mount struct {
	Source      string
	Destination string
	ReadOnly    bool
	Tmpfs       bool
	TmpfsSize   int64
}

// Spec describes everything needed to launch one reservation's container.
type Spec struct {
	Name         string
	Image        string
	CPUs         float64
	MemoryBytes  int64
	ShmSizeBytes int64
	Mounts       []Mount
	// PortBindings maps the inside-container port to the chosen outside port.
	PortBindings map[int]int
	// GPUDeviceIDs are the internalIds of the per-device GPU rows reserved,
	// passed by the Effector as the DeviceIDs of an nvidia "gpu" device request.
	GPUDeviceIDs []string
}

// State is the subset of container state the reconciler inspects.
type State struct {
	Running   bool
	ExitCode  int
	StartedAt time.Time
}

// Effector is the capability surface the reconciler calls. Implementations
// must be safe for concurrent use.
type Effector interface {
	Run(ctx context.Context, spec Spec) (id string, err error)
	Stop(ctx context.Context, name string) error
	Remove(ctx context.Context, name string) error
	Restart(ctx context.Context, name string) error
	Inspect(ctx context.Context, name string) (State, error)
	ListRunning(ctx context.Context) ([]RunningContainer, error)
	SetPassword(ctx context.Context, name, password string) error
	Exec(ctx context.Context, name string, cmd []string) error
}

// RunningContainer is one entry returned by ListRunning.
type RunningContainer struct {
	ID        string
	Name      string
	StartedAt time.Time
}

// Client is the Docker-Engine-API-backed Effector.
type Client struct {
	docker *client.Client
}

// NewClient connects to the local Docker daemon (via DOCKER_HOST/default
// socket, negotiating the API version).
func NewClient() (*Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Client{docker: cli}, nil
}

func (c *Client) Close() error {
	return c.docker.Close()
}

// Run creates and starts a container per spec, publishing the requested
// ports and mounting the requested binds. Image pull always runs first
// (pull=always, matching the original launch contract).
func (c *Client) Run(ctx context.Context, spec Spec) (string, error) {
	logger := logging.WithComponent("docker")
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	reader, err := c.docker.ImagePull(ctx, spec.Image, dockertypes.ImagePullOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to pull image %s: %w", spec.Image, err)
	}
	defer reader.Close()
	drainQuietly(reader)

	containerCfg := &container.Config{
		Image: spec.Image,
	}

	hostCfg := &container.HostConfig{
		Resources: container.Resources{
			NanoCPUs: int64(spec.CPUs * 1e9),
		},
		ShmSize:      spec.ShmSizeBytes,
		PortBindings: buildPortBindings(spec.PortBindings),
		Mounts:       buildMounts(spec.Mounts),
	}
	if spec.MemoryBytes > 0 {
		hostCfg.Resources.Memory = spec.MemoryBytes
	}
	if len(spec.GPUDeviceIDs) > 0 {
		hostCfg.DeviceRequests = []container.DeviceRequest{
			{
				Driver:       "nvidia",
				DeviceIDs:    spec.GPUDeviceIDs,
				Capabilities: [][]string{{"gpu"}},
			},
		}
	}

	resp, err := c.docker.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("failed to create container %s: %w", spec.Name, err)
	}

	if err := c.docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("failed to start container %s: %w", spec.Name, err)
	}

	logger.Info().Str("container", spec.Name).Str("id", resp.ID).Msg("container started")
	return resp.ID, nil
}

func buildPortBindings(bindings map[int]int) nat.PortMap {
	if len(bindings) == 0 {
		return nil
	}
	m := nat.PortMap{}
	for insidePort, outsidePort := range bindings {
		port := nat.Port(fmt.Sprintf("%d/tcp", insidePort))
		m[port] = []nat.PortBinding{{HostPort: fmt.Sprintf("%d", outsidePort)}}
	}
	return m
}

func buildMounts(mounts []Mount) []mount.Mount {
	out := make([]mount.Mount, 0, len(mounts))
	for _, m := range mounts {
		if m.Tmpfs {
			out = append(out, mount.Mount{
				Type:   mount.TypeTmpfs,
				Target: m.Destination,
				TmpfsOptions: &mount.TmpfsOptions{
					SizeBytes: m.TmpfsSize,
				},
			})
			continue
		}
		out = append(out, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.Source,
			Target:   m.Destination,
			ReadOnly: m.ReadOnly,
		})
	}
	return out
}

// Stop stops the named container. A non-existent container is not an error.
func (c *Client) Stop(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	timeout := 10
	if err := c.docker.ContainerStop(ctx, name, container.StopOptions{Timeout: &timeout}); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to stop container %s: %w", name, err)
	}
	return nil
}

// Remove removes the named container. A non-existent container is not an
// error.
func (c *Client) Remove(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	if err := c.docker.ContainerRemove(ctx, name, container.RemoveOptions{Force: true}); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to remove container %s: %w", name, err)
	}
	return nil
}

// Restart restarts the named container.
func (c *Client) Restart(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	timeout := 10
	if err := c.docker.ContainerRestart(ctx, name, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("failed to restart container %s: %w", name, err)
	}
	return nil
}

// Inspect reports whether the named container is running, its exit code if
// stopped, and its start time.
func (c *Client) Inspect(ctx context.Context, name string) (State, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	info, err := c.docker.ContainerInspect(ctx, name)
	if err != nil {
		return State{}, fmt.Errorf("failed to inspect container %s: %w", name, err)
	}

	startedAt, _ := time.Parse(time.RFC3339Nano, info.State.StartedAt)
	return State{
		Running:   info.State.Running,
		ExitCode:  info.State.ExitCode,
		StartedAt: startedAt,
	}, nil
}

// ListRunning returns every running container whose name begins with
// ContainerNamePrefix, for the orphan sweep.
func (c *Client) ListRunning(ctx context.Context) ([]RunningContainer, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	f := filters.NewArgs()
	f.Add("status", "running")

	containers, err := c.docker.ContainerList(ctx, container.ListOptions{Filters: f})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	var out []RunningContainer
	for _, cont := range containers {
		name := strings.TrimPrefix(primaryName(cont.Names), "/")
		if !strings.HasPrefix(name, ContainerNamePrefix) {
			continue
		}
		out = append(out, RunningContainer{
			ID:        cont.ID,
			Name:      name,
			StartedAt: time.Unix(cont.Created, 0),
		})
	}
	return out, nil
}

func primaryName(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

// SetPassword sets the SSH password inside the named container via exec,
// matching the original's post-start `chpasswd` invocation.
func (c *Client) SetPassword(ctx context.Context, name, password string) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	execCfg := container.ExecOptions{
		Cmd:          []string{"/bin/sh", "-c", fmt.Sprintf("echo 'root:%s' | chpasswd", password)},
		AttachStdout: true,
		AttachStderr: true,
	}

	execID, err := c.docker.ContainerExecCreate(ctx, name, execCfg)
	if err != nil {
		return fmt.Errorf("failed to create password exec for %s: %w", name, err)
	}

	if err := c.docker.ContainerExecStart(ctx, execID.ID, container.ExecStartOptions{}); err != nil {
		return fmt.Errorf("failed to run password exec for %s: %w", name, err)
	}
	return nil
}

// Exec runs cmd inside the named container and waits for it to finish.
func (c *Client) Exec(ctx context.Context, name string, cmd []string) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	execCfg := container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	}

	execID, err := c.docker.ContainerExecCreate(ctx, name, execCfg)
	if err != nil {
		return fmt.Errorf("failed to create exec for %s: %w", name, err)
	}

	if err := c.docker.ContainerExecStart(ctx, execID.ID, container.ExecStartOptions{}); err != nil {
		return fmt.Errorf("failed to run exec for %s: %w", name, err)
	}
	return nil
}

func drainQuietly(r interface{ Read([]byte) (int, error) }) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n == 0 || err != nil {
			return
		}
	}
}
