// Package prof pushes continuous profiles to Pyroscope.
package prof

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/grafana/pyroscope-go"

	"github.com/keithlinneman/combostatic/internal/log"
	"github.com/keithlinneman/combostatic/internal/xerrors"
)

type Options struct {
	Enabled       bool
	AppName       string
	ServerAddress string
	TenantID      string
	Tags          map[string]string

	// Mutex and block profiles are only collected when these are > 0.
	MutexProfileFraction int
	BlockProfileRate     int

	// OnActive reports whether the profiler is running, e.g. to a gauge.
	OnActive func(bool)
}

// profileTypes is what a file server spends its time on: CPU for hashing
// and concatenation, allocations for the combine buffers, goroutines for
// connection handling.
var profileTypes = []pyroscope.ProfileType{
	pyroscope.ProfileCPU,
	pyroscope.ProfileAllocObjects,
	pyroscope.ProfileAllocSpace,
	pyroscope.ProfileInuseObjects,
	pyroscope.ProfileInuseSpace,
	pyroscope.ProfileGoroutines,
}

// Start begins profiling and returns a stop func that is safe to call more
// than once. Disabled or failed starts return a no-op stop.
func Start(ctx context.Context, opts Options) (func(), error) {
	L := log.FromContext(ctx)
	report := func(active bool) {
		if opts.OnActive != nil {
			opts.OnActive(active)
		}
	}

	if !opts.Enabled {
		report(false)
		L.Info(ctx, "pyroscope disabled")
		return func() {}, nil
	}
	if opts.ServerAddress == "" {
		report(false)
		return func() {}, xerrors.New("pyroscope server address is empty")
	}

	types := append([]pyroscope.ProfileType(nil), profileTypes...)
	if opts.MutexProfileFraction > 0 {
		runtime.SetMutexProfileFraction(opts.MutexProfileFraction)
		types = append(types, pyroscope.ProfileMutexCount, pyroscope.ProfileMutexDuration)
	}
	if opts.BlockProfileRate > 0 {
		runtime.SetBlockProfileRate(opts.BlockProfileRate)
		types = append(types, pyroscope.ProfileBlockCount, pyroscope.ProfileBlockDuration)
	}

	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: opts.AppName,
		ServerAddress:   opts.ServerAddress,
		TenantID:        opts.TenantID,
		Tags:            opts.Tags,
		ProfileTypes:    types,
		Logger:          pyroLogger{L: L.With("component", "pyroscope")},
	})
	if err != nil {
		report(false)
		return func() {}, xerrors.Wrapf(err, "pyroscope start (server=%s)", opts.ServerAddress)
	}

	report(true)
	L.Info(ctx, "pyroscope started", "server_address", opts.ServerAddress, "app_name", opts.AppName)

	var once sync.Once
	return func() {
		once.Do(func() {
			_ = profiler.Stop()
			report(false)
			L.Info(context.Background(), "pyroscope stopped")
		})
	}, nil
}

// pyroLogger routes the profiler's own printf logging into ours.
type pyroLogger struct{ L log.Logger }

func (p pyroLogger) Infof(format string, args ...any) {
	p.L.Debug(context.Background(), fmt.Sprintf(format, args...))
}

func (p pyroLogger) Debugf(format string, args ...any) {
	p.L.Debug(context.Background(), fmt.Sprintf(format, args...))
}

func (p pyroLogger) Errorf(format string, args ...any) {
	p.L.Error(context.Background(), fmt.Errorf(format, args...), "pyroscope error")
}
