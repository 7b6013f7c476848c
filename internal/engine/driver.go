package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// ConfigEnvVar is the environment variable carrying the JSON-serialized
// effective configuration to the driver subprocess.
const ConfigEnvVar = "MBSS_TEST_CONFIG"

// maxTailBytes bounds how much trailing driver output is kept for the
// failure message. The full stream always lands in console.log.
const maxTailBytes = 2048

// Driver launches the external browser-test subprocess, one invocation per
// test. The contract with the subprocess: it receives the spec path and the
// test's artifact directory as trailing CLI arguments, the effective config
// as JSON in ConfigEnvVar, and runs with the deploy root as working
// directory. Exit code zero means the test passed; anything else, including
// a failure to start, means it failed.
type Driver struct {
	command string
	args    []string
	workDir string
	logger  *slog.Logger
}

// NewDriver returns a Driver that invokes command with args before the
// per-test trailing arguments, from workDir.
func NewDriver(command string, args []string, workDir string, logger *slog.Logger) *Driver {
	return &Driver{
		command: command,
		args:    args,
		workDir: workDir,
		logger:  logger,
	}
}

// DriverRequest describes one test invocation.
type DriverRequest struct {
	SpecPath    string         // absolute path of the spec file to run
	OutputDir   string         // the test's artifact directory
	ConsolePath string         // console.log to append driver output to
	Config      map[string]any // effective configuration
}

// DriverOutcome is the result of one invocation. Every failure mode,
// including infrastructure errors around the spawn, folds into a failed
// outcome with a human-readable message; the caller never aborts a run
// because one driver invocation went wrong.
type DriverOutcome struct {
	Passed  bool
	Message string
}

// Run executes the driver for one test, blocking until it exits. Stdout and
// stderr are appended to the console log as they arrive; their tails are
// kept so a non-zero exit can carry the most relevant output as its failure
// message.
func (d *Driver) Run(ctx context.Context, req DriverRequest) DriverOutcome {
	payload, err := json.Marshal(req.Config)
	if err != nil {
		return DriverOutcome{Message: fmt.Sprintf("driver config not serializable: %v", err)}
	}

	console, err := os.OpenFile(req.ConsolePath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return DriverOutcome{Message: fmt.Sprintf("cannot open console log: %v", err)}
	}
	defer console.Close()

	// Stdout and stderr are copied concurrently, so writes to the shared
	// console file must be serialized.
	shared := &lockedWriter{w: console}
	stdoutTail := &tailBuffer{max: maxTailBytes}
	stderrTail := &tailBuffer{max: maxTailBytes}

	args := append(append([]string{}, d.args...), req.SpecPath, req.OutputDir)
	cmd := exec.CommandContext(ctx, d.command, args...)
	cmd.Dir = d.workDir
	cmd.Env = append(os.Environ(), ConfigEnvVar+"="+string(payload))
	cmd.Stdout = io.MultiWriter(shared, stdoutTail)
	cmd.Stderr = io.MultiWriter(shared, stderrTail)

	d.logger.Debug("driver starting",
		slog.String("command", d.command),
		slog.String("spec", req.SpecPath))

	err = cmd.Run()
	if err == nil {
		return DriverOutcome{Passed: true}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		msg := stderrTail.String()
		if msg == "" {
			msg = stdoutTail.String()
		}
		if msg == "" {
			msg = fmt.Sprintf("driver exited with code %d", exitErr.ExitCode())
		}
		return DriverOutcome{Message: msg}
	}

	return DriverOutcome{Message: fmt.Sprintf("driver failed to start: %v", err)}
}

// lockedWriter serializes writes from the stdout and stderr copiers onto a
// single underlying writer.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (lw *lockedWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.Write(p)
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	max int
	buf []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	if len(b.buf) > b.max {
		b.buf = b.buf[len(b.buf)-b.max:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	return strings.TrimSpace(string(b.buf))
}
