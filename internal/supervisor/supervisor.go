// Package supervisor launches a declared process and relaunches it when it
// exits, following the restart policy from its descriptor.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"liveapp/internal/logging"
)

// ErrTooManyRestarts is returned when the child keeps exiting before
// MinUptime more than MaxRestarts times in a row.
var ErrTooManyRestarts = errors.New("too many unstable restarts")

// Options configures a Supervisor. Env names the env_<name> set applied on
// top of env; empty means env only. BaseDir resolves relative script and cwd
// values and defaults to the working directory.
type Options struct {
	Env     string
	BaseDir string
	Logger  *logging.Logger
	Stdout  io.Writer
	Stderr  io.Writer
}

// Supervisor runs one App.
type Supervisor struct {
	app    App
	env    []string
	dir    string
	script string
	log    *logging.Logger
	stdout io.Writer
	stderr io.Writer

	starts   atomic.Int64
	restarts atomic.Int64
}

// New prepares a supervisor for app. The environment set is resolved here so
// an unknown name fails before anything is launched.
func New(app App, opts Options) (*Supervisor, error) {
	if err := app.Validate(); err != nil {
		return nil, err
	}

	env, err := app.Environ(os.Environ(), opts.Env)
	if err != nil {
		return nil, err
	}

	base := opts.BaseDir
	if base == "" {
		if base, err = os.Getwd(); err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
	}
	dir := base
	if app.Cwd != "" {
		dir = resolve(base, app.Cwd)
	}

	// Bare names ("node", "server") go through PATH lookup in exec.
	script := app.Script
	if strings.ContainsRune(script, filepath.Separator) || strings.ContainsRune(script, '/') {
		script = resolve(dir, script)
	}

	s := &Supervisor{
		app:    app,
		env:    env,
		dir:    dir,
		script: script,
		log:    opts.Logger,
		stdout: opts.Stdout,
		stderr: opts.Stderr,
	}
	if s.log == nil {
		s.log = logging.Default()
	}
	if s.stdout == nil {
		s.stdout = os.Stdout
	}
	if s.stderr == nil {
		s.stderr = os.Stderr
	}
	return s, nil
}

func resolve(base, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// Starts reports how many times the child has been launched.
func (s *Supervisor) Starts() int64 { return s.starts.Load() }

// Restarts reports how many relaunches followed an exit.
func (s *Supervisor) Restarts() int64 { return s.restarts.Load() }

// Run launches the child and keeps it running until ctx is cancelled.
//
// With autorestart off, Run returns after the first exit with the child's
// exit error (nil on status 0). Cancelling ctx sends SIGTERM, escalates to
// SIGKILL after KillTimeout, and makes Run return nil. A launch failure is
// returned immediately since retrying cannot fix it.
func (s *Supervisor) Run(ctx context.Context) error {
	unstable := 0
	for {
		started := time.Now()
		cmd, err := s.start(ctx)
		if err != nil {
			s.log.Error("app_launch_failed", s.fields(nil), err)
			return err
		}
		exitErr := s.wait(cmd)
		uptime := time.Since(started)

		if ctx.Err() != nil {
			s.log.Info("app_stopped", s.fields(map[string]any{"uptime": uptime.String()}))
			return nil
		}
		if !s.app.AutoRestart {
			return exitErr
		}

		if uptime < s.app.MinUptime {
			unstable++
		} else {
			unstable = 0
		}
		if unstable > s.app.MaxRestarts {
			err := fmt.Errorf("%w: app %q exited %d times within %s", ErrTooManyRestarts, s.app.Name, unstable, s.app.MinUptime)
			s.log.Error("app_errored", s.fields(map[string]any{"unstable_restarts": unstable}), err)
			return err
		}

		s.log.Info("app_restarting", s.fields(map[string]any{
			"restart_delay":     s.app.RestartDelay.String(),
			"unstable_restarts": unstable,
		}))
		if !sleepCtx(ctx, s.app.RestartDelay) {
			s.log.Info("app_stopped", s.fields(nil))
			return nil
		}
		s.restarts.Add(1)
	}
}

// sleepCtx waits for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (s *Supervisor) start(ctx context.Context) (*exec.Cmd, error) {
	cmd := exec.CommandContext(ctx, s.script, s.app.Args...)
	cmd.Dir = s.dir
	cmd.Env = s.env
	cmd.Stdout = s.stdout
	cmd.Stderr = s.stderr
	// A zero kill timeout keeps exec's default of killing outright.
	if s.app.KillTimeout > 0 {
		cmd.Cancel = func() error {
			return cmd.Process.Signal(syscall.SIGTERM)
		}
		cmd.WaitDelay = s.app.KillTimeout
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", s.script, err)
	}
	s.starts.Add(1)
	s.log.Info("app_started", s.fields(map[string]any{"pid": cmd.Process.Pid}))
	return cmd, nil
}

// wait blocks until the child exits and returns its exit error.
func (s *Supervisor) wait(cmd *exec.Cmd) error {
	err := cmd.Wait()

	fields := map[string]any{"pid": cmd.Process.Pid}
	if cmd.ProcessState != nil {
		fields["exit_code"] = cmd.ProcessState.ExitCode()
	}
	if err != nil {
		s.log.Error("app_exited", s.fields(fields), err)
	} else {
		s.log.Info("app_exited", s.fields(fields))
	}
	return err
}

func (s *Supervisor) fields(extra map[string]any) map[string]any {
	f := map[string]any{
		"app":      s.app.Name,
		"restarts": s.restarts.Load(),
	}
	for k, v := range extra {
		f[k] = v
	}
	return f
}
