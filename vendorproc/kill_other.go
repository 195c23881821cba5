//go:build !windows

package vendorproc

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
)

// killAllByName terminates every process with the given image name.
// Non-Windows hosts are used for development and tests only; pgrep covers
// them well enough.
func killAllByName(ctx context.Context, image string) (int, error) {
	out, err := exec.CommandContext(ctx, "pgrep", "-x", image).Output()
	if err != nil {
		// pgrep exits 1 when nothing matches.
		return 0, nil
	}
	killed := 0
	for _, line := range strings.Fields(string(out)) {
		pid, err := strconv.Atoi(line)
		if err != nil {
			continue
		}
		if err := syscall.Kill(pid, syscall.SIGKILL); err == nil {
			killed++
		}
	}
	return killed, nil
}
