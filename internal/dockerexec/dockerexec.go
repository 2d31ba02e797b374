// Package dockerexec implements the local Docker executor (spec §4.7,
// C7): it runs a package's image as a container on the local Docker
// daemon, mounts the package's work directory, and decodes the
// container's exit code and captured stdout/stderr back into an
// executor.Value.
//
// Grounded on the Docker Engine client usage in the pack's in-container
// orchestration services — crossplane's function-runner image pulls and
// cyverse-de/app-exposer's deployment-by-image pattern — both drive
// `github.com/docker/docker/client` directly rather than shelling out to
// the `docker` CLI, which is the idiom this package follows.
package dockerexec

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/brane-lang/brane/internal/executor"
)

// Config is the process-wide mount/runtime policy spec §4.7 step 3 reads
// from environment configuration (DOCKER_NETWORK, DOCKER_GPUS,
// DOCKER_PRIVILEGED, DOCKER_VOLUMES_FROM and BRANE_DATA_DIR). It applies to
// every container this Executor launches, not to any one call. It has no
// field for DOCKER_VOLUME, and no named Docker volume is mounted.
type Config struct {
	// DataDir, if set, is bound read-write at /data (spec §4.7 step 3). It
	// must not contain ':' (rejected at Docker's bind-mount syntax level).
	DataDir     string
	Network     string
	GPUs        string
	Privileged  bool
	VolumesFrom []string
}

// ConfigFromEnv reads DataDir from BRANE_DATA_DIR and the other fields from
// DOCKER_NETWORK, DOCKER_GPUS, DOCKER_PRIVILEGED ("true" enables it) and
// DOCKER_VOLUMES_FROM (comma-separated). DOCKER_VOLUME is not read.
func ConfigFromEnv() Config {
	cfg := Config{
		DataDir:    os.Getenv("BRANE_DATA_DIR"),
		Network:    os.Getenv("DOCKER_NETWORK"),
		GPUs:       os.Getenv("DOCKER_GPUS"),
		Privileged: os.Getenv("DOCKER_PRIVILEGED") == "true",
	}
	if vf := os.Getenv("DOCKER_VOLUMES_FROM"); vf != "" {
		cfg.VolumesFrom = strings.Split(vf, ",")
	}
	return cfg
}

// Executor runs external functions as short-lived local Docker
// containers. It satisfies executor.Executor.
type Executor struct {
	cli    *client.Client
	log    *logrus.Entry
	cfg    Config
	workFn func(pkgName string) string // resolves a package to its wd/ host path
}

// New constructs an Executor against the Docker daemon reachable from the
// environment (DOCKER_HOST and friends), matching client.NewClientWithOpts
// with client.FromEnv the way the pack's container-driving services do.
func New(cfg Config, workFn func(pkgName string) string, log *logrus.Entry) (*Executor, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errors.Wrap(err, "dockerexec: connect to docker daemon")
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if cfg.DataDir != "" {
		if strings.Contains(cfg.DataDir, ":") {
			return nil, &executor.CallError{Message: fmt.Sprintf("data directory %q must not contain ':'", cfg.DataDir)}
		}
		abs, err := filepath.Abs(cfg.DataDir)
		if err != nil {
			return nil, errors.Wrapf(err, "dockerexec: canonicalize data directory %q", cfg.DataDir)
		}
		if _, err := os.Stat(abs); err != nil {
			return nil, errors.Wrapf(err, "dockerexec: data directory %q", abs)
		}
		cfg.DataDir = abs
	}
	return &Executor{cli: cli, log: log, cfg: cfg, workFn: workFn}, nil
}

// randomContainerName returns an 8-char lowercase name (spec §4.7 step 4).
// uuid.New() is already lowercase hex; the hyphens are stripped before
// truncating.
func randomContainerName() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}

// imageRef is "<package>:<version>", the tag the package's image.tar was
// loaded under (spec §6.3).
func imageRef(pkg, version string) string { return fmt.Sprintf("%s:%s", pkg, version) }

// ensureImage checks the image is present locally, matching spec §4.7's
// "image presence check" step; this executor never pulls from a registry,
// since packages arrive as a local image.tar (§6.3), not a registry ref.
func (e *Executor) ensureImage(ctx context.Context, ref string) error {
	_, _, err := e.cli.ImageInspectWithRaw(ctx, ref)
	if err == nil {
		return nil
	}
	if client.IsErrNotFound(err) {
		return &executor.CallError{Message: fmt.Sprintf("image %q is not present locally", ref)}
	}
	return errors.Wrapf(err, "dockerexec: inspect image %q", ref)
}

// Call runs req's function as a container. Detached requests are started
// and return a Service immediately without waiting for exit; attached
// requests block until the container exits and return its decoded result.
func (e *Executor) Call(ctx context.Context, req executor.CallRequest) (executor.Value, error) {
	ref := imageRef(req.Package, req.Version)
	if err := e.ensureImage(ctx, ref); err != nil {
		return executor.Value{}, err
	}

	cmd, err := buildCommand(req)
	if err != nil {
		return executor.Value{}, &executor.CallError{Message: err.Error()}
	}
	name := randomContainerName()
	resp, err := e.cli.ContainerCreate(ctx, &container.Config{
		Image: ref,
		Cmd:   cmd,
		Tty:   false,
	}, e.hostConfig(req.Package), nil, nil, name)
	if err != nil {
		return executor.Value{}, errors.Wrapf(err, "dockerexec: create container %s for %s", name, ref)
	}

	if err := e.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return executor.Value{}, errors.Wrapf(err, "dockerexec: start container %s", resp.ID)
	}

	if req.Detached {
		addr, err := e.containerAddress(ctx, resp.ID)
		if err != nil {
			return executor.Value{}, err
		}
		return executor.Value{Kind: executor.ValueService, Service: &executor.Service{
			Identifier: resp.ID,
			Address:    addr,
			State:      executor.ServiceStarted,
		}}, nil
	}
	return e.waitAndDecode(ctx, resp.ID)
}

// containerAddress inspects the container's first attached network for its
// IP address (spec §4.7 step 4: "address obtained by inspecting the first
// network attached to the container; empty string falls back to
// 127.0.0.1").
func (e *Executor) containerAddress(ctx context.Context, containerID string) (string, error) {
	info, err := e.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		return "", errors.Wrapf(err, "dockerexec: inspect container %s for network address", containerID)
	}
	if info.NetworkSettings == nil {
		return "127.0.0.1", nil
	}
	for _, net := range info.NetworkSettings.Networks {
		if net.IPAddress != "" {
			return net.IPAddress, nil
		}
		return "127.0.0.1", nil
	}
	return "127.0.0.1", nil
}

// hostConfig builds spec §4.7 step 3's mount policy: the package's wd/
// directory at /opt/wd, /var/run/docker.sock always bound (packages may
// launch nested containers), an optional host data directory at /data, and
// GPU/privileged/network/volumes-from read from process-wide Config.
func (e *Executor) hostConfig(pkgName string) *container.HostConfig {
	binds := []string{"/var/run/docker.sock:/var/run/docker.sock"}
	if e.workFn != nil {
		if hostPath := e.workFn(pkgName); hostPath != "" {
			binds = append(binds, hostPath+":/opt/wd:rw")
		}
	}
	if e.cfg.DataDir != "" {
		binds = append(binds, e.cfg.DataDir+":/data:rw")
	}

	hc := &container.HostConfig{
		Binds:       binds,
		Privileged:  e.cfg.Privileged,
		VolumesFrom: e.cfg.VolumesFrom,
	}
	if e.cfg.Network != "" {
		hc.NetworkMode = dockerNetworkMode(e.cfg.Network)
	}
	if e.cfg.GPUs != "" {
		hc.Resources.DeviceRequests = []container.DeviceRequest{{
			Driver:       "nvidia",
			Count:        -1,
			Capabilities: [][]string{{"gpu"}},
		}}
	}
	return hc
}

func dockerNetworkMode(name string) container.NetworkMode {
	return container.NetworkMode(name)
}

// buildCommand constructs the container command vector spec §4.7 step 2
// fixes: `[-d, --application-id, test, --location-id, localhost, --job-id,
// 1, <package-kind>, <function-name>, <base64(json(args))>]`.
func buildCommand(req executor.CallRequest) ([]string, error) {
	argsB64, err := executor.EncodeArgsB64(req.Parameters, req.Args)
	if err != nil {
		return nil, fmt.Errorf("dockerexec: encode arguments: %w", err)
	}
	cmd := []string{
		"-d",
		"--application-id", "test",
		"--location-id", "localhost",
		"--job-id", "1",
	}
	return append(cmd, req.Kind, req.Function, argsB64), nil
}

// waitAndDecode blocks for container exit and reads back its logs,
// decoding the branelet-formatted stdout/stderr into a Value or a
// CallError (spec §4.7's "exit-code/stdout-stderr decoding").
func (e *Executor) waitAndDecode(ctx context.Context, containerID string) (executor.Value, error) {
	defer func() {
		if err := e.cli.ContainerRemove(context.Background(), containerID, container.RemoveOptions{Force: true}); err != nil {
			e.log.WithError(err).WithField("container_id", containerID).Warn("dockerexec: failed to remove container")
		}
	}()

	statusCh, errCh := e.cli.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	var exitCode int64
	select {
	case err := <-errCh:
		if err != nil {
			return executor.Value{}, errors.Wrapf(err, "dockerexec: wait for container %s", containerID)
		}
	case status := <-statusCh:
		exitCode = status.StatusCode
	}

	out, errOut, err := e.readLogs(ctx, containerID)
	if err != nil {
		return executor.Value{}, err
	}

	if exitCode != 0 {
		return executor.Value{}, &executor.CallError{Code: int(exitCode), Stdout: out, Stderr: errOut}
	}
	return decodeResult(out)
}

func (e *Executor) readLogs(ctx context.Context, containerID string) (stdout, stderr string, err error) {
	rc, err := e.cli.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", "", errors.Wrapf(err, "dockerexec: read logs for %s", containerID)
	}
	defer rc.Close()

	var outBuf, errBuf bytes.Buffer
	demuxLogs(rc, &outBuf, &errBuf)
	return outBuf.String(), errBuf.String(), nil
}

// demuxLogs strips Docker's 8-byte multiplexed-stream header, splitting
// stdout and stderr apart the way the daemon interleaves them over one
// connection when the container wasn't started with a TTY.
func demuxLogs(r io.Reader, stdout, stderr *bytes.Buffer) {
	header := make([]byte, 8)
	for {
		if _, err := io.ReadFull(r, header); err != nil {
			return
		}
		size := int(header[4])<<24 | int(header[5])<<16 | int(header[6])<<8 | int(header[7])
		frame := make([]byte, size)
		if _, err := io.ReadFull(r, frame); err != nil {
			return
		}
		if header[0] == 2 {
			stderr.Write(frame)
		} else {
			stdout.Write(frame)
		}
	}
}

// decodeResult implements spec §4.7 step 5: "take the last line of stdout
// and decode: base64 -> UTF-8 -> JSON -> Value". branelet
// (internal/supervisor) prints exactly that line once its capture-mode
// extraction and YAML decode succeed.
func decodeResult(stdout string) (executor.Value, error) {
	lines := strings.Split(strings.TrimRight(stdout, "\n"), "\n")
	last := lines[len(lines)-1]
	if last == "" {
		return executor.Value{Kind: executor.ValueUnit}, nil
	}
	raw, err := base64.StdEncoding.DecodeString(last)
	if err != nil {
		return executor.Value{}, errors.Wrap(err, "dockerexec: decode result line as base64")
	}
	v, err := executor.ValueFromJSON(raw)
	if err != nil {
		return executor.Value{}, errors.Wrap(err, "dockerexec: decode result JSON")
	}
	return v, nil
}

// PullImageFromTar loads a package's image.tar into the local daemon,
// satisfying spec §6.3's "image.tar ships with the package" contract
// without a registry round-trip.
func (e *Executor) PullImageFromTar(ctx context.Context, r io.Reader) error {
	resp, err := e.cli.ImageLoad(ctx, r, client.ImageLoadWithQuiet(true))
	if err != nil {
		return errors.Wrap(err, "dockerexec: load image.tar")
	}
	defer resp.Body.Close()
	_, err = io.Copy(io.Discard, resp.Body)
	return err
}

// Debug, Stdout, and Stderr satisfy executor.Executor; the local Docker
// executor has no separate debug channel, so these fold into the standard
// logger.
func (e *Executor) Debug(ctx context.Context, message string) error {
	e.log.Debug(message)
	return nil
}

func (e *Executor) Stdout(ctx context.Context, message string) error {
	e.log.Info(message)
	return nil
}

func (e *Executor) Stderr(ctx context.Context, message string) error {
	e.log.Warn(message)
	return nil
}

// WaitUntil blocks until the container backing svc reaches the desired
// state, reusing the same wait/decode path as an attached Call.
func (e *Executor) WaitUntil(ctx context.Context, svc *executor.Service, state executor.ServiceState) (executor.Value, error) {
	if state == executor.ServiceStarted {
		return executor.Value{Kind: executor.ValueService, Service: svc}, nil
	}
	return e.waitAndDecode(ctx, svc.Identifier)
}
