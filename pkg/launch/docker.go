package launch

import (
	"context"
	"io"
	"sort"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// DockerLauncher runs services as containers through the Docker API.
// Services with `restart: always` get the engine's native restart policy, so
// the orchestrator's monitor does not relaunch them itself.
type DockerLauncher struct {
	cli         *client.Client
	stopTimeout int // seconds
	pull        bool
}

type DockerOptions struct {
	StopTimeout time.Duration
	Pull        bool
}

func NewDockerLauncher(opts DockerOptions) (*DockerLauncher, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errors.Wrap(err, "new docker client")
	}
	stopSecs := 10
	if opts.StopTimeout > 0 {
		stopSecs = int(opts.StopTimeout / time.Second)
	}
	return &DockerLauncher{cli: cli, stopTimeout: stopSecs, pull: opts.Pull}, nil
}

func (l *DockerLauncher) Start(ctx context.Context, spec Spec) (Handle, error) {
	if spec.Image == "" {
		return Handle{}, errors.Errorf("service %q missing image", spec.Name)
	}

	if l.pull {
		reader, err := l.cli.ImagePull(ctx, spec.Image, image.PullOptions{})
		if err != nil {
			return Handle{}, errors.Wrapf(err, "pull image %s", spec.Image)
		}
		_, _ = io.Copy(io.Discard, reader)
		_ = reader.Close()
	}

	exposed, bindings, err := nat.ParsePortSpecs(spec.Ports)
	if err != nil {
		return Handle{}, errors.Wrapf(err, "service %q: parse ports", spec.Name)
	}

	containerConfig := &container.Config{
		Image:        spec.Image,
		Cmd:          strslice.StrSlice(spec.Command),
		Env:          envSlice(spec.Env),
		ExposedPorts: exposed,
	}

	hostConfig := &container.HostConfig{
		PortBindings: bindings,
		Binds:        spec.Volumes,
	}
	if spec.Restart == "always" {
		hostConfig.RestartPolicy = container.RestartPolicy{Name: container.RestartPolicyAlways}
	}

	resp, err := l.cli.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, spec.Name)
	if err != nil {
		return Handle{}, errors.Wrapf(err, "create container %s", spec.Name)
	}
	if err := l.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = l.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return Handle{}, errors.Wrapf(err, "start container %s", spec.Name)
	}

	log.Info().Str("service", spec.Name).Str("container", resp.ID[:12]).Msg("container started")
	return Handle{
		Name:        spec.Name,
		ContainerID: resp.ID,
		StartedAt:   time.Now(),
	}, nil
}

func (l *DockerLauncher) Stop(ctx context.Context, h Handle) error {
	if h.ContainerID == "" {
		return nil
	}
	timeout := l.stopTimeout
	if err := l.cli.ContainerStop(ctx, h.ContainerID, container.StopOptions{Timeout: &timeout}); err != nil {
		log.Warn().Str("service", h.Name).Err(err).Msg("container stop failed; forcing removal")
	}
	if err := l.cli.ContainerRemove(ctx, h.ContainerID, container.RemoveOptions{Force: true}); err != nil {
		return errors.Wrapf(err, "remove container %s", h.Name)
	}
	return nil
}

func (l *DockerLauncher) Alive(ctx context.Context, h Handle) bool {
	if h.ContainerID == "" {
		return false
	}
	resp, err := l.cli.ContainerInspect(ctx, h.ContainerID)
	if err != nil {
		return false
	}
	return resp.State != nil && resp.State.Running
}

func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(env))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
