package opshttp

import (
	"net/http"

	"github.com/keithlinneman/combostatic/internal/health"
)

type Options struct {
	Port        int // default 9000
	Metrics     http.Handler
	EnablePprof bool
	Health      health.Probe
	Readiness   health.Probe

	// BuildInfo, when set, is served as JSON at /-/version.
	BuildInfo any

	UseRecoverMW bool
	OnPanic      func() // called after a recovered panic, e.g. to bump a counter
}
