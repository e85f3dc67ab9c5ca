package sandbox

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

const (
	displayPort = nat.Port("6080/tcp")
	controlPort = nat.Port("5900/tcp")

	stopTimeoutSeconds = 10
)

// DockerBackend runs sandbox instances as Docker containers with
// dynamically assigned host ports for display forwarding and remote control.
type DockerBackend struct {
	cli    *client.Client
	image  string
	width  int
	height int
}

// NewDockerBackend connects to the Docker daemon and verifies it is
// reachable. Callers should treat an error as "backend unavailable" and fall
// back to a nil backend rather than failing startup.
func NewDockerBackend(image string, width, height int) (*DockerBackend, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("docker daemon unreachable: %w", err)
	}

	return &DockerBackend{cli: cli, image: image, width: width, height: height}, nil
}

// Start creates and starts a sandbox container, then inspects it for the
// host ports Docker assigned to the display and control endpoints.
func (b *DockerBackend) Start(ctx context.Context, name string) (*Instance, error) {
	cfg := &container.Config{
		Image: b.image,
		Env: []string{
			fmt.Sprintf("WIDTH=%d", b.width),
			fmt.Sprintf("HEIGHT=%d", b.height),
		},
		ExposedPorts: nat.PortSet{
			displayPort: struct{}{},
			controlPort: struct{}{},
		},
	}
	hostCfg := &container.HostConfig{
		// Empty HostPort asks Docker for an ephemeral host port.
		PortBindings: nat.PortMap{
			displayPort: []nat.PortBinding{{}},
			controlPort: []nat.PortBinding{{}},
		},
		ShmSize: 2 << 30,
	}

	created, err := b.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox container: %w", err)
	}

	if err := b.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start sandbox container: %w", err)
	}

	inspect, err := b.cli.ContainerInspect(ctx, created.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect sandbox container: %w", err)
	}

	display, err := hostPort(inspect.NetworkSettings.Ports, displayPort)
	if err != nil {
		return nil, err
	}
	control, err := hostPort(inspect.NetworkSettings.Ports, controlPort)
	if err != nil {
		return nil, err
	}

	return &Instance{ID: created.ID, DisplayPort: display, ControlPort: control}, nil
}

// StopAndRemove stops and removes a sandbox container.
func (b *DockerBackend) StopAndRemove(ctx context.Context, instanceID string) error {
	timeout := stopTimeoutSeconds
	if err := b.cli.ContainerStop(ctx, instanceID, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("failed to stop sandbox container: %w", err)
	}
	if err := b.cli.ContainerRemove(ctx, instanceID, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("failed to remove sandbox container: %w", err)
	}
	return nil
}

// Close releases the Docker client.
func (b *DockerBackend) Close() error {
	return b.cli.Close()
}

func hostPort(ports nat.PortMap, p nat.Port) (int, error) {
	bindings := ports[p]
	if len(bindings) == 0 || bindings[0].HostPort == "" {
		return 0, fmt.Errorf("no host port mapped for %s", p)
	}
	n, err := strconv.Atoi(bindings[0].HostPort)
	if err != nil {
		return 0, fmt.Errorf("invalid host port %q for %s: %w", bindings[0].HostPort, p, err)
	}
	return n, nil
}
