package health

import (
	"context"
	"os"
	"sync/atomic"

	"github.com/keithlinneman/combostatic/internal/xerrors"
)

// Probe is evaluated on every health request: nil means pass, an error
// fails the check and its message becomes the reason.
type Probe interface{ Check(context.Context) error }

// CheckFunc adapts a function into a Probe.
type CheckFunc func(context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// Fixed always passes, or always fails with reason ("unhealthy" if empty).
func Fixed(ok bool, reason string) CheckFunc {
	if ok {
		return func(context.Context) error { return nil }
	}
	if reason == "" {
		reason = "unhealthy"
	}
	return func(context.Context) error { return xerrors.New(reason) }
}

// All passes only if every non-nil probe passes. It stops at the first failure.
func All(ps ...Probe) CheckFunc {
	return func(ctx context.Context) error {
		for _, p := range ps {
			if p == nil {
				continue
			}
			if err := p.Check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// Any passes if one non-nil probe passes, otherwise returns the last failure.
func Any(ps ...Probe) CheckFunc {
	return func(ctx context.Context) error {
		var last error
		for _, p := range ps {
			if p == nil {
				continue
			}
			err := p.Check(ctx)
			if err == nil {
				return nil
			}
			last = err
		}
		if last != nil {
			return last
		}
		return xerrors.New("no healthy probes")
	}
}

// DirProbe fails unless dir exists and is a directory. The site root can
// vanish under a running server (unmounted volume, bundle swap), and nothing
// can be served from it then.
func DirProbe(dir string) CheckFunc {
	return func(context.Context) error {
		fi, err := os.Stat(dir)
		if err != nil {
			return xerrors.Wrap(err, "site root unavailable")
		}
		if !fi.IsDir() {
			return xerrors.Newf("site root %s is not a directory", dir)
		}
		return nil
	}
}

// ShutdownGate fails readiness while the server drains, so load balancers
// stop routing to it before the listener closes.
type ShutdownGate struct {
	draining atomic.Bool
	reason   atomic.Value
}

func (g *ShutdownGate) Set(reason string) {
	g.reason.Store(reason)
	g.draining.Store(true)
}

func (g *ShutdownGate) Clear() {
	g.draining.Store(false)
	g.reason.Store("")
}

func (g *ShutdownGate) Probe() CheckFunc {
	return func(context.Context) error {
		if !g.draining.Load() {
			return nil
		}
		r, _ := g.reason.Load().(string)
		if r == "" {
			r = "draining"
		}
		return xerrors.New(r)
	}
}
