// SSH-backed backend for the job scheduler's SLURM and VM location kinds
// (spec §4.9 step 5, "SLURM / VM"): resolves SSH credentials (certificate
// or password), keeps one cached connection per location, and submits a
// batch job that launches Docker or Singularity on the remote host with
// the job's command/env, redirecting stdout/stderr to
// `stdout-<job>.txt`/`stderr-<job>.txt`.
//
// The spec calls the remote-scheduling handle "Xenon" (the original's Java
// job-submission middleware); this repo has no Xenon binding available in
// the retrieved pack, so XenonBackend is a direct golang.org/x/crypto/ssh
// client that plays the same role: a cached, per-location connection
// handle invalidated when the underlying connection reports closed.
// Grounded on sandia-minimega-minimega's cmd/protonuke/ssh.go, the one
// in-pack file that dials `golang.org/x/crypto/ssh` directly (its
// connect-with-ClientConfig shape is reused here verbatim); the
// broader "one process fans batch jobs out to many remote hosts" shape
// follows minimega's master/client split in src/ron.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"

	"github.com/brane-lang/brane/internal/infra"
)

// XenonBackend dispatches jobs over SSH to SLURM or plain VM locations,
// launching the location's configured Runtime (spec §6.4).
type XenonBackend struct {
	// CertDir is where certificate credentials are persisted as files
	// (spec §4.9 step 5: "persist the certificate as a file on the Xenon
	// endpoint's local filesystem"). Defaults to os.TempDir() if empty.
	CertDir string

	mu      sync.Mutex
	clients map[string]*ssh.Client
}

func NewXenonBackend() *XenonBackend {
	return &XenonBackend{clients: make(map[string]*ssh.Client)}
}

// connectionFor returns a cached *ssh.Client for loc, dialing and caching
// a new one if none exists yet or the cached one has reported closed.
func (x *XenonBackend) connectionFor(loc infra.Location, resolved infra.Credentials) (*ssh.Client, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if cli, ok := x.clients[loc.ID]; ok {
		// A closed connection's session creation always errors; proactively
		// probing here with a throwaway session would add a round trip per
		// dispatch, so instead NewSession in Dispatch evicts on failure.
		return cli, nil
	}

	authMethod, err := x.authMethod(loc, resolved)
	if err != nil {
		return nil, err
	}
	cfg := &ssh.ClientConfig{
		User:            resolved.Username,
		Auth:            []ssh.AuthMethod{authMethod},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // no host-key pinning data is carried in spec §6.4
	}
	cli, err := ssh.Dial("tcp", loc.Address, cfg)
	if err != nil {
		return nil, fmt.Errorf("scheduler: xenon: dial %s: %w", loc.Address, err)
	}
	x.clients[loc.ID] = cli
	return cli, nil
}

func (x *XenonBackend) authMethod(loc infra.Location, resolved infra.Credentials) (ssh.AuthMethod, error) {
	switch resolved.Kind {
	case infra.CredentialsCertificate:
		path, err := x.persistCertificate(loc.ID, resolved.CertificatePath)
		if err != nil {
			return nil, err
		}
		key, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("scheduler: xenon: read certificate %s: %w", path, err)
		}
		var signer ssh.Signer
		if resolved.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(resolved.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(key)
		}
		if err != nil {
			return nil, fmt.Errorf("scheduler: xenon: parse certificate for %q: %w", loc.ID, err)
		}
		return ssh.PublicKeys(signer), nil
	case infra.CredentialsPassword:
		return ssh.Password(resolved.Password), nil
	default:
		return nil, fmt.Errorf("scheduler: xenon: location %q has no SSH-compatible credentials", loc.ID)
	}
}

// persistCertificate writes certPath's contents to a file under CertDir
// named after the location, satisfying "persist the certificate as a file
// on the Xenon endpoint's local filesystem and point the credential at its
// path" (spec §4.9 step 5). If certPath is already a filesystem path (the
// common case once infra.Resolve has run) it is returned unchanged.
func (x *XenonBackend) persistCertificate(locationID, certPath string) (string, error) {
	if certPath == "" {
		return "", fmt.Errorf("scheduler: xenon: location %q has no certificate configured", locationID)
	}
	if _, err := os.Stat(certPath); err == nil {
		return certPath, nil
	}

	dir := x.CertDir
	if dir == "" {
		dir = os.TempDir()
	}
	dest := fmt.Sprintf("%s/brane-cert-%s", dir, locationID)
	if err := os.WriteFile(dest, []byte(certPath), 0o600); err != nil {
		return "", fmt.Errorf("scheduler: xenon: persist certificate for %q: %w", locationID, err)
	}
	return dest, nil
}

// invalidate drops a cached connection, forcing the next Dispatch to
// redial — called when a session fails to open on the cached client.
func (x *XenonBackend) invalidate(locationID string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if cli, ok := x.clients[locationID]; ok {
		cli.Close()
		delete(x.clients, locationID)
	}
}

// Dispatch resolves loc's credentials, opens (or reuses) an SSH
// connection, and submits a remote command that launches the job's image
// via the location's Runtime, redirecting stdout/stderr to per-job files
// (spec §4.9 step 5).
func (x *XenonBackend) Dispatch(ctx context.Context, job Job, loc infra.Location) error {
	resolved, err := infra.Resolve(loc.Credentials, nil)
	if err != nil {
		return fmt.Errorf("scheduler: xenon: resolve credentials for %q: %w", loc.ID, err)
	}

	cli, err := x.connectionFor(loc, resolved)
	if err != nil {
		return err
	}

	session, err := cli.NewSession()
	if err != nil {
		x.invalidate(loc.ID)
		cli, err = x.connectionFor(loc, resolved)
		if err != nil {
			return err
		}
		session, err = cli.NewSession()
		if err != nil {
			return fmt.Errorf("scheduler: xenon: open session on %q: %w", loc.ID, err)
		}
	}
	defer session.Close()

	cmd := remoteLaunchCommand(job, loc.Runtime)
	if err := session.Run(cmd); err != nil {
		return fmt.Errorf("scheduler: xenon: submit batch job %s on %q: %w", job.ID, loc.ID, err)
	}
	return nil
}

// remoteLaunchCommand renders the shell command run on the remote host: a
// `docker run` or `singularity run` invocation carrying the job's image,
// command, and environment, with stdout/stderr redirected to
// `stdout-<job>.txt`/`stderr-<job>.txt` (spec §4.9 step 5). The invocation
// is started in the background under nohup, so the SSH session returns as
// soon as the job is launched rather than when it exits.
func remoteLaunchCommand(job Job, runtime infra.Runtime) string {
	var launcher string
	switch runtime {
	case infra.RuntimeSingularity:
		envFlags := ""
		for name, value := range job.Env {
			envFlags += fmt.Sprintf(" --env %s=%s", name, shellQuote(value))
		}
		launcher = fmt.Sprintf("singularity run%s docker://%s", envFlags, job.Image)
	default:
		envFlags := ""
		for name, value := range job.Env {
			envFlags += fmt.Sprintf(" -e %s=%s", name, shellQuote(value))
		}
		launcher = fmt.Sprintf("docker run --rm --privileged%s %s", envFlags, job.Image)
	}
	for _, arg := range job.Command {
		launcher += " " + shellQuote(arg)
	}
	return fmt.Sprintf("nohup %s >stdout-%s.txt 2>stderr-%s.txt </dev/null &", launcher, job.ID, job.ID)
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
