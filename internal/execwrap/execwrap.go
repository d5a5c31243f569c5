// Package execwrap is a thin os/exec wrapper used by the architecture
// oracle's dpkg-architecture fallback and the archive adapter's calls into
// the external repository tool. Grounded on
// mantle/system/exec/exec.go's Cmd interface, trimmed to the synchronous
// run-and-capture shape both callers actually need.
package execwrap

import (
	"bytes"
	"context"
	"os/exec"

	shellquote "github.com/kballard/go-shellquote"
)

// Runner executes external commands. Its only implementation wraps
// os/exec, but callers depend on the interface so tests can stub it without
// spawning real processes.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, exitCode int, err error)
}

// OS is the real Runner, backed by os/exec.CommandContext.
type OS struct{}

// Run executes name with args and returns its captured stdout/stderr and
// exit code. err is non-nil only for failures that prevented the process
// from running at all (e.g. command not found); a nonzero exit is reported
// via exitCode with a nil err, since both archive's "already-registered"
// code 254 and dpkg-architecture's ordinary nonzero exits are meaningful
// signals, not failures.
func (OS) Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, exitCode int, err error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	runErr := cmd.Run()
	stdout, stderr = outBuf.Bytes(), errBuf.Bytes()

	if runErr == nil {
		return stdout, stderr, 0, nil
	}
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		return stdout, stderr, exitErr.ExitCode(), nil
	}
	return stdout, stderr, -1, runErr
}

// Quoted renders argv as a single shell-quoted string, for log lines that
// need to show exactly what was run.
func Quoted(name string, args ...string) string {
	return shellquote.Join(append([]string{name}, args...)...)
}
