//go:build windows

package runner

import "os/exec"

func configureProcess(*exec.Cmd) {}

func terminateProcess(c *exec.Cmd) {
	if c == nil || c.Process == nil {
		return
	}
	_ = c.Process.Kill()
}
