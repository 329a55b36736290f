// Package provision prepares freshly created VMs over SSH: it connects to
// each one and runs the configured setup commands, retrying a VM that isn't
// reachable yet.
package provision

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rileyhilliard/vmctl/internal/errors"
	"github.com/rileyhilliard/vmctl/internal/logger"
	"github.com/rileyhilliard/vmctl/pkg/sshutil"
	"golang.org/x/sync/errgroup"
)

// Defaults for a zero Options.
const (
	DefaultAttempts = 5
	DefaultParallel = 4
)

// Options configures a Provisioner. A zero RetryDelay retries at once.
type Options struct {
	// SSH is shared by all targets; User and Password are replaced per
	// target when the target sets them.
	SSH      sshutil.Options
	Commands []string

	Attempts   int
	RetryDelay time.Duration
	Parallel   int

	Logger logger.Logger
	// OnRetry is called after a failed attempt that will be retried. It
	// may be called from several goroutines at once.
	OnRetry func(vm string, attempt, attempts int, err error)
}

// Result is the outcome for one VM.
type Result struct {
	VM        string
	Host      string
	Attempts  int
	Completed int // Commands that exited 0
	Output    string
	Err       error
}

// OK reports whether every command ran.
func (r Result) OK() bool { return r.Err == nil }

// Provisioner runs the setup commands on a set of targets.
type Provisioner struct {
	opts Options
	log  logger.Logger
}

// New returns a Provisioner.
func New(opts Options) *Provisioner {
	if opts.Attempts < 1 {
		opts.Attempts = DefaultAttempts
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	}
	if opts.Parallel < 1 {
		opts.Parallel = DefaultParallel
	}
	log := opts.Logger
	if log == nil {
		log = logger.Noop()
	}
	return &Provisioner{opts: opts, log: log}
}

// Run provisions every target, at most Parallel at a time, and returns one
// Result per target in the same order. A failed VM doesn't stop the others.
func (p *Provisioner) Run(ctx context.Context, targets []Target) []Result {
	results := make([]Result, len(targets))

	var g errgroup.Group
	g.SetLimit(p.opts.Parallel)
	for i, t := range targets {
		g.Go(func() error {
			results[i] = p.provisionOne(ctx, t)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// provisionOne retries a VM until its commands all succeed, the attempts
// run out or ctx ends. Commands that already succeeded are not run again.
func (p *Provisioner) provisionOne(ctx context.Context, t Target) Result {
	res := Result{VM: t.VM, Host: t.Host}
	var out bytes.Buffer

	var lastErr error
	for attempt := 1; attempt <= p.opts.Attempts; attempt++ {
		res.Attempts = attempt
		lastErr = p.runCommands(ctx, t, &res, &out)
		if lastErr == nil {
			p.log.Info("provisioned %s (%s) in %d attempt(s)", t.VM, t.Host, attempt)
			break
		}
		if ctx.Err() != nil || !retryable(lastErr) || attempt == p.opts.Attempts {
			break
		}

		p.log.Warn("provision %s: attempt %d/%d failed: %s", t.VM, attempt, p.opts.Attempts, errors.Short(lastErr))
		if p.opts.OnRetry != nil {
			p.opts.OnRetry(t.VM, attempt, p.opts.Attempts, lastErr)
		}

		timer := time.NewTimer(p.opts.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
		if ctx.Err() != nil {
			break
		}
	}

	res.Output = out.String()
	if lastErr != nil {
		if ctx.Err() != nil {
			lastErr = errors.WrapWithCode(ctx.Err(), errors.ErrTransport,
				fmt.Sprintf("Provisioning %s was interrupted", t.VM),
				"Run it again; every command runs from the start")
		}
		p.log.Error("provision %s failed after %d attempt(s): %s", t.VM, res.Attempts, errors.Short(lastErr))
		res.Err = lastErr
	}
	return res
}

// runCommands dials the target and runs the commands from res.Completed on.
// With no commands it only checks that the VM accepts SSH logins.
func (p *Provisioner) runCommands(ctx context.Context, t Target, res *Result, out *bytes.Buffer) error {
	opts := p.opts.SSH
	if t.User != "" {
		opts.User = t.User
	}
	if t.Password != "" {
		opts.Password = t.Password
	}

	client, err := sshutil.Dial(ctx, t.Host, opts)
	if err != nil {
		return err
	}
	defer client.Close()

	for res.Completed < len(p.opts.Commands) {
		cmd := p.opts.Commands[res.Completed]
		p.log.Debug("provision %s: running %q", t.VM, cmd)

		var cmdOut syncBuffer
		code, err := client.ExecStream(ctx, cmd, &cmdOut, &cmdOut)
		out.WriteString(cmdOut.String())
		if err != nil {
			return err
		}
		if code != 0 {
			return errors.New(errors.ErrRemote,
				fmt.Sprintf("'%s' exited with status %d on %s", cmd, code, t.VM),
				lastLine(cmdOut.String()))
		}
		res.Completed++
	}
	return nil
}

// retryable is false for problems another attempt can't fix, like missing
// credentials or a changed host key.
func retryable(err error) bool {
	if errors.IsCode(err, errors.ErrConfig) {
		return false
	}
	return !strings.Contains(err.Error(), "host key mismatch")
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}

// syncBuffer takes stdout and stderr, which the SSH session copies from
// separate goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
