// Local Docker backend for the job scheduler (spec §4.9 step 5, "Local
// Docker"): pulls/imports the image, creates an auto-removing, privileged
// container on the bridge network with the job's bind mounts, and starts
// it detached — the scheduler never waits for exit; job completion is
// reported asynchronously by the supervisor's callbacks.
//
// Grounded on internal/dockerexec's client wiring (same
// client.NewClientWithOpts(client.FromEnv) pattern, itself grounded on the
// pack's container-driving services, crossplane-crossplane and
// cyverse-de-app-exposer).
package scheduler

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/pkg/errors"

	"github.com/brane-lang/brane/internal/infra"
)

// DockerBackend dispatches jobs as local Docker containers.
type DockerBackend struct {
	cli *client.Client
}

// NewDockerBackend connects to the local Docker daemon from the process
// environment (DOCKER_HOST and friends).
func NewDockerBackend() (*DockerBackend, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errors.Wrap(err, "scheduler: connect to docker daemon")
	}
	return &DockerBackend{cli: cli}, nil
}

func (d *DockerBackend) Dispatch(ctx context.Context, job Job, _ infra.Location) error {
	if _, _, err := d.cli.ImageInspectWithRaw(ctx, job.Image); err != nil {
		if !client.IsErrNotFound(err) {
			return errors.Wrapf(err, "scheduler: inspect image %q", job.Image)
		}
		return fmt.Errorf("scheduler: image %q is not present locally", job.Image)
	}

	env := make([]string, 0, len(job.Env))
	for k, v := range job.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	binds := make([]string, 0, len(job.Mounts)+1)
	binds = append(binds, "/var/run/docker.sock:/var/run/docker.sock")
	for _, m := range job.Mounts {
		binds = append(binds, fmt.Sprintf("%s:%s", m.Source, m.Destination))
	}

	resp, err := d.cli.ContainerCreate(ctx, &container.Config{
		Image: job.Image,
		Cmd:   job.Command,
		Env:   env,
	}, &container.HostConfig{
		Binds:       binds,
		Privileged:  true,
		AutoRemove:  true,
		NetworkMode: container.NetworkMode("bridge"),
	}, &network.NetworkingConfig{}, nil, job.ID)
	if err != nil {
		return errors.Wrapf(err, "scheduler: create container for job %s", job.ID)
	}

	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return errors.Wrapf(err, "scheduler: start container for job %s", job.ID)
	}
	return nil
}
