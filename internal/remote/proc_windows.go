//go:build windows

package remote

import "os/exec"

func detach(_ *exec.Cmd) {}
