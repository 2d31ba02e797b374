// Distributed filesystem mount and SOCKS-5 redirector (spec §4.11 step 1):
// both are external processes the supervisor shells out to and leaves
// running for the lifetime of the job, grounded on the same
// exec.CommandContext usage runner.go uses to launch the entrypoint itself.
package supervisor

import (
	"context"
	"fmt"
	"os/exec"
)

// MountDFS mounts spec's BRANE_MOUNT_DFS target at /data via the bundled
// juicefs CLI. mountSpec is the raw BRANE_MOUNT_DFS value (a JuiceFS
// metadata URL); empty means "do not mount".
func MountDFS(ctx context.Context, mountSpec string) error {
	if mountSpec == "" {
		return nil
	}
	cmd := exec.CommandContext(ctx, "juicefs", "mount", "-d", mountSpec, "/data")
	if err := cmd.Start(); err != nil {
		return &LetError{Kind: LetJuiceFS, Message: fmt.Sprintf("mount distributed filesystem: %s", err)}
	}
	return nil
}

// StartRedirector launches a local SOCKS-5 redirector pointed at
// proxyAddr (BRANE_PROXY_ADDRESS), returning a func to stop it. An empty
// proxyAddr means "no proxy configured"; StartRedirector is then a no-op.
func StartRedirector(ctx context.Context, proxyAddr string) (func(), error) {
	if proxyAddr == "" {
		return func() {}, nil
	}
	cmd := exec.CommandContext(ctx, "redirector", "--upstream", proxyAddr, "--listen", "127.0.0.1:1080")
	if err := cmd.Start(); err != nil {
		return nil, &LetError{Kind: LetRedirector, Message: fmt.Sprintf("start SOCKS-5 redirector: %s", err)}
	}
	return func() { _ = cmd.Process.Kill() }, nil
}
