// SPDX-License-Identifier: MPL-2.0

package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

const (
	// BuiltinProgram is the program name that routes to in-process builtins.
	BuiltinProgram = "wheelhouse"
	// DefaultKillTimeout is how long a process group gets between SIGTERM
	// and SIGKILL after cancellation.
	DefaultKillTimeout = 2 * time.Second
)

type (
	// Shell runs command strings with the embedded interpreter.
	Shell struct {
		// Builtins serves "wheelhouse <stage>" commands. May be nil.
		Builtins *Registry
		// KillTimeout overrides DefaultKillTimeout; negative kills at once.
		KillTimeout time.Duration
		// TTY runs external programs on a pseudo-terminal.
		TTY bool
	}

	// Command is one command string and its execution context.
	Command struct {
		Script string
		// Name labels parse errors, e.g. "py3[2]".
		Name string
		Dir  string
		// Env is the complete environment; nothing else is visible.
		Env  map[string]string
		Args []string

		Stdin  io.Reader
		Stdout io.Writer
		Stderr io.Writer
	}
)

// Parse checks script syntax without running it.
func Parse(script, name string) (*syntax.File, error) {
	prog, err := syntax.NewParser().Parse(strings.NewReader(script), name)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	return prog, nil
}

// Run executes c and waits for it. A non-zero exit is reported through
// Result.ExitCode; Result.Error is reserved for commands that could not run
// to completion, including cancellation.
func (s *Shell) Run(ctx context.Context, c Command) *Result {
	start := time.Now()

	prog, err := Parse(c.Script, c.Name)
	if err != nil {
		return &Result{ExitCode: 2, Error: err}
	}

	stdout, stderr := c.Stdout, c.Stderr
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}

	opts := []interp.RunnerOption{
		interp.Env(expand.ListEnviron(EnvToSlice(c.Env)...)),
		interp.StdIO(c.Stdin, stdout, stderr),
		interp.ExecHandlers(s.execHandler),
	}
	if c.Dir != "" {
		opts = append(opts, interp.Dir(c.Dir))
	}
	if len(c.Args) > 0 {
		opts = append(opts, interp.Params(append([]string{"--"}, c.Args...)...))
	}

	runner, err := interp.New(opts...)
	if err != nil {
		return &Result{ExitCode: 1, Error: fmt.Errorf("create interpreter: %w", err)}
	}

	err = runner.Run(ctx, prog)
	result := &Result{Duration: time.Since(start)}
	if err == nil {
		return result
	}

	var status interp.ExitStatus
	if errors.As(err, &status) {
		result.ExitCode = ExitCode(status)
		return result
	}
	result.ExitCode = 1
	if ctxErr := ctx.Err(); ctxErr != nil {
		result.Error = fmt.Errorf("%s: %w", c.Name, ctxErr)
	} else {
		result.Error = fmt.Errorf("%s: %w", c.Name, err)
	}
	return result
}

func (s *Shell) execHandler(next interp.ExecHandlerFunc) interp.ExecHandlerFunc {
	return func(ctx context.Context, args []string) error {
		if len(args) > 0 && args[0] == BuiltinProgram && s.Builtins != nil {
			return s.runBuiltin(ctx, args)
		}
		return s.execProcess(ctx, args)
	}
}

func (s *Shell) runBuiltin(ctx context.Context, args []string) error {
	hc := interp.HandlerCtx(ctx)
	if len(args) < 2 {
		fmt.Fprintf(hc.Stderr, "%s: missing stage (available: %s)\n", BuiltinProgram, strings.Join(s.Builtins.Names(), ", "))
		return interp.ExitStatus(2)
	}

	stage := args[1]
	fn, ok := s.Builtins.Lookup(stage)
	if !ok {
		fmt.Fprintf(hc.Stderr, "%s: unknown stage %q (available: %s)\n", BuiltinProgram, stage, strings.Join(s.Builtins.Names(), ", "))
		return interp.ExitStatus(127)
	}

	err := fn(ctx, Invocation{
		Args:   args[2:],
		Dir:    hc.Dir,
		Env:    environMap(hc.Env),
		Stdin:  hc.Stdin,
		Stdout: hc.Stdout,
		Stderr: hc.Stderr,
	})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var statusErr *ExitStatusError
	if errors.As(err, &statusErr) {
		if statusErr.Code.IsSuccess() {
			return nil
		}
		if statusErr.Err != nil {
			fmt.Fprintf(hc.Stderr, "%s %s: %v\n", BuiltinProgram, stage, statusErr.Err)
		}
		return interp.ExitStatus(uint8(statusErr.Code.Failure()))
	}
	fmt.Fprintf(hc.Stderr, "%s %s: %v\n", BuiltinProgram, stage, err)
	return interp.ExitStatus(1)
}

// execProcess starts an external program in its own process group and
// tears the whole group down when ctx is done.
func (s *Shell) execProcess(ctx context.Context, args []string) error {
	hc := interp.HandlerCtx(ctx)
	path, err := interp.LookPathDir(hc.Dir, hc.Env, args[0])
	if err != nil {
		fmt.Fprintln(hc.Stderr, err)
		return interp.ExitStatus(127)
	}

	cmd := &exec.Cmd{
		Path:      path,
		Args:      args,
		Env:       EnvToSlice(environMap(hc.Env)),
		Dir:       hc.Dir,
		WaitDelay: s.killTimeout() + time.Second,
	}

	var ptmx *os.File
	copyDone := make(chan struct{})
	if s.TTY {
		ptmx, err = startPTY(cmd)
		if err == nil {
			go func() {
				defer close(copyDone)
				_, _ = io.Copy(hc.Stdout, ptmx)
			}()
		}
	} else {
		close(copyDone)
		cmd.Stdin, cmd.Stdout, cmd.Stderr = hc.Stdin, hc.Stdout, hc.Stderr
		setProcessGroup(cmd)
		err = cmd.Start()
	}
	if err != nil {
		fmt.Fprintf(hc.Stderr, "%s: %v\n", args[0], err)
		return interp.ExitStatus(127)
	}

	var (
		mu        sync.Mutex
		killTimer *time.Timer
	)
	stop := context.AfterFunc(ctx, func() {
		if s.killTimeout() <= 0 {
			_ = killGroup(cmd)
			return
		}
		_ = terminateGroup(cmd)
		mu.Lock()
		killTimer = time.AfterFunc(s.killTimeout(), func() { _ = killGroup(cmd) })
		mu.Unlock()
	})

	waitErr := cmd.Wait()
	stop()
	mu.Lock()
	if killTimer != nil {
		killTimer.Stop()
	}
	mu.Unlock()

	if ptmx != nil {
		select {
		case <-copyDone:
		case <-time.After(s.killTimeout()):
		}
		_ = ptmx.Close()
	}

	if ctx.Err() != nil {
		// Reap anything the leader left behind in its group.
		_ = killGroup(cmd)
		return ctx.Err()
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		if code, ok := signaledStatus(exitErr); ok {
			return interp.ExitStatus(uint8(code))
		}
		return interp.ExitStatus(uint8(exitErr.ExitCode()))
	}
	return waitErr
}

func (s *Shell) killTimeout() time.Duration {
	switch {
	case s.KillTimeout < 0:
		return 0
	case s.KillTimeout == 0:
		return DefaultKillTimeout
	default:
		return s.KillTimeout
	}
}

// environMap collects the exported string variables of the interpreter.
func environMap(env expand.Environ) map[string]string {
	out := make(map[string]string)
	for name, vr := range env.Each {
		if vr.Exported && vr.Kind == expand.String {
			out[name] = vr.String()
		}
	}
	return out
}
