//go:build windows

package cloudflared

import "os/exec"

func interrupt(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}
