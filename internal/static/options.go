package static

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/keithlinneman/combostatic/internal/log"
)

var ErrInvalidOptions = errors.New("invalid static options")

type Options struct {
	Logger log.Logger

	// Index is served for a directory or a path ending in "/".
	Index        string // default: "index.html"
	DisableIndex bool

	// MaxAge becomes "Cache-Control: max-age=<seconds>". Zero sends max-age=0.
	MaxAge time.Duration

	// Hidden allows serving paths with a segment that starts with a dot.
	Hidden bool

	// Defer runs the rest of the chain first and serves a file only when
	// nothing downstream answered.
	Defer bool
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = log.Nop()
	}
	if o.Index == "" {
		o.Index = "index.html"
	}
}

func (o *Options) validate() error {
	if o.MaxAge < 0 {
		return fmt.Errorf("%w: MaxAge must not be negative", ErrInvalidOptions)
	}
	if strings.ContainsAny(o.Index, "/\\\x00") || o.Index == "." || o.Index == ".." {
		return fmt.Errorf("%w: Index %q must be a plain file name", ErrInvalidOptions, o.Index)
	}
	return nil
}
