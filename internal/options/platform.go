package options

import (
	"os/exec"
	"runtime"
)

func execLookPath(name string) (string, error) { return exec.LookPath(name) }

func isWindows() bool { return runtime.GOOS == "windows" }
