package sitehandler

import (
	"errors"
	"time"

	"github.com/keithlinneman/combostatic/internal/combine"
	"github.com/keithlinneman/combostatic/internal/log"
)

var ErrInvalidOptions = errors.New("invalid site handler options")

// Options is the whole configuration surface of the pipeline. Identifier
// belongs to the combine engine, Weak to the validator layer, everything
// else to the static file server.
type Options struct {
	Logger log.Logger

	Identifier string // default: "??"
	Weak       bool

	Defer        bool
	Hidden       bool
	Index        string // default: "index.html"
	DisableIndex bool
	MaxAge       time.Duration

	// Observer receives combine outcomes, usually the metrics registry.
	Observer combine.Observer
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = log.Nop()
	}
	if o.Identifier == "" {
		o.Identifier = combine.DefaultIdentifier
	}
}
