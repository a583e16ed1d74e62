package orchestrator

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/jaewoo-rain/webide-broker/internal/logger"
)

// DockerAdapter is the local-runtime Orchestrator Adapter variant, grounded
// on the docker-agent's container lifecycle operations and on
// original_source/docker_file2.py's port-binding approach.
type DockerAdapter struct {
	cli     *client.Client
	network string
}

// NewDockerAdapter wraps an already-connected Docker client. network may be
// empty, in which case containers are attached to Docker's default bridge.
func NewDockerAdapter(cli *client.Client, network string) *DockerAdapter {
	return &DockerAdapter{cli: cli, network: network}
}

func (a *DockerAdapter) Create(ctx context.Context, name, image string, env map[string]string, ports []PortMap) (*Instance, error) {
	log := logger.Orchestrator()

	envList := make([]string, 0, len(env))
	for k, v := range env {
		envList = append(envList, fmt.Sprintf("%s=%s", k, v))
	}

	exposedPorts := nat.PortSet{}
	portBindings := nat.PortMap{}
	for _, p := range ports {
		natPort := nat.Port(fmt.Sprintf("%d/tcp", p.Internal))
		exposedPorts[natPort] = struct{}{}
		portBindings[natPort] = []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: fmt.Sprintf("%d", p.External)}}
	}

	cfg := &container.Config{
		Image:        image,
		Env:          envList,
		ExposedPorts: exposedPorts,
		Labels: map[string]string{
			"app":       "webide-broker",
			"component": "sandbox",
		},
	}
	hostCfg := &container.HostConfig{
		PortBindings: portBindings,
	}
	var netCfg *network.NetworkingConfig
	if a.network != "" {
		netCfg = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				a.network: {},
			},
		}
	}

	resp, err := a.cli.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, name)
	if err != nil {
		if isPortConflict(err) {
			return nil, &PortInUseError{}
		}
		if isNameConflict(err) {
			return nil, &NameInUseError{Name: name}
		}
		return nil, fmt.Errorf("docker: create container: %w", err)
	}

	if err := a.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = a.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return nil, fmt.Errorf("docker: start container: %w", err)
	}

	log.Info().Str("container_id", resp.ID).Str("name", name).Msg("container created")
	return &Instance{ID: resp.ID, Name: name}, nil
}

func (a *DockerAdapter) Destroy(ctx context.Context, instance *Instance) error {
	if instance == nil {
		return nil
	}
	err := a.cli.ContainerRemove(ctx, instance.ID, container.RemoveOptions{Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("docker: remove container: %w", err)
	}
	return nil
}

func (a *DockerAdapter) Lookup(ctx context.Context, idOrPrefix string) (*Instance, error) {
	if inspect, err := a.cli.ContainerInspect(ctx, idOrPrefix); err == nil {
		return &Instance{ID: inspect.ID, Name: strings.TrimPrefix(inspect.Name, "/")}, nil
	}

	list, err := a.cli.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("docker: list containers: %w", err)
	}

	var matches []types.Container
	for _, c := range list {
		if strings.HasPrefix(c.ID, idOrPrefix) {
			matches = append(matches, c)
		}
	}
	switch len(matches) {
	case 0:
		return nil, &LookupError{Message: "no container matches id/prefix " + idOrPrefix}
	case 1:
		name := ""
		if len(matches[0].Names) > 0 {
			name = strings.TrimPrefix(matches[0].Names[0], "/")
		}
		return &Instance{ID: matches[0].ID, Name: name}, nil
	default:
		return nil, &LookupError{Ambiguous: true, Message: fmt.Sprintf("ambiguous id prefix %q matches %d containers", idOrPrefix, len(matches))}
	}
}

func (a *DockerAdapter) Exec(ctx context.Context, instance *Instance, argv []string, _ ExecOptions) (*ExecResult, error) {
	execCfg := types.ExecConfig{
		Cmd:          argv,
		AttachStdout: true,
		AttachStderr: true,
	}
	created, err := a.cli.ContainerExecCreate(ctx, instance.ID, execCfg)
	if err != nil {
		return nil, fmt.Errorf("docker: exec create: %w", err)
	}

	attach, err := a.cli.ContainerExecAttach(ctx, created.ID, types.ExecStartCheck{})
	if err != nil {
		return nil, fmt.Errorf("docker: exec attach: %w", err)
	}
	defer attach.Close()

	out, err := io.ReadAll(attach.Reader)
	if err != nil {
		return nil, fmt.Errorf("docker: exec read: %w", err)
	}

	inspect, err := a.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return nil, fmt.Errorf("docker: exec inspect: %w", err)
	}

	return &ExecResult{ExitCode: inspect.ExitCode, Stdout: string(out)}, nil
}

func (a *DockerAdapter) Attach(ctx context.Context, instance *Instance, argv []string) (PTY, error) {
	execCfg := types.ExecConfig{
		Cmd:          argv,
		Tty:          true,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	}
	created, err := a.cli.ContainerExecCreate(ctx, instance.ID, execCfg)
	if err != nil {
		return nil, fmt.Errorf("docker: exec create: %w", err)
	}

	hijacked, err := a.cli.ContainerExecAttach(ctx, created.ID, types.ExecStartCheck{Tty: true})
	if err != nil {
		return nil, fmt.Errorf("docker: exec attach: %w", err)
	}

	return &dockerPTY{hijacked: hijacked}, nil
}

// dockerPTY adapts a docker HijackedResponse to the PTY interface.
type dockerPTY struct {
	hijacked types.HijackedResponse
}

func (p *dockerPTY) Read(buf []byte) (int, error) {
	return p.hijacked.Reader.Read(buf)
}

func (p *dockerPTY) Write(buf []byte) (int, error) {
	return p.hijacked.Conn.Write(buf)
}

func (p *dockerPTY) Close() error {
	p.hijacked.Close()
	return nil
}

var _ PTY = (*dockerPTY)(nil)

func isPortConflict(err error) bool {
	return strings.Contains(err.Error(), "port is already allocated") || strings.Contains(err.Error(), "address already in use")
}

func isNameConflict(err error) bool {
	return strings.Contains(err.Error(), "Conflict.") || strings.Contains(err.Error(), "is already in use")
}
