// Package xerrors adds call-site information to errors without changing how
// they compare. Wrap and Wrapf remember the line that wrapped; New, Newf,
// WithStack and EnsureTrace capture a full stack. The logger reads both to
// render error_links and stack attributes.
package xerrors

import (
	"errors"
	"fmt"
	"runtime"
)

const maxStackDepth = 64

// marker lets the logger skip our wrappers when naming an error's type.
type marker interface{ IsXerrorsWrapper() }

var _ marker = (*withStack)(nil)

type withStack struct {
	err error
	pcs []uintptr
}

func (w *withStack) Error() string       { return w.err.Error() }
func (w *withStack) Unwrap() error       { return w.err }
func (w *withStack) StackPCs() []uintptr { return w.pcs }
func (w *withStack) IsXerrorsWrapper()   {}

type wrap struct {
	err error
	msg string
	pc  uintptr
}

func (w *wrap) Error() string     { return w.msg + ": " + w.err.Error() }
func (w *wrap) Unwrap() error     { return w.err }
func (w *wrap) PC() uintptr       { return w.pc }
func (w *wrap) IsXerrorsWrapper() {}

// stackFrom captures the stack starting skip frames above its caller.
func stackFrom(skip int) []uintptr {
	pcs := make([]uintptr, maxStackDepth)
	// +2: runtime.Callers and stackFrom
	return pcs[:runtime.Callers(skip+2, pcs)]
}

// pcFrom returns the program counter skip frames above its caller.
func pcFrom(skip int) uintptr {
	var pcs [1]uintptr
	if runtime.Callers(skip+2, pcs[:]) == 0 {
		return 0
	}
	return pcs[0]
}

func stacked(err error, skip int) error {
	if err == nil {
		return nil
	}
	return &withStack{err: err, pcs: stackFrom(skip + 1)}
}

func New(msg string) error             { return stacked(errors.New(msg), 1) }
func Newf(f string, args ...any) error { return stacked(fmt.Errorf(f, args...), 1) }

// WithStack attaches the caller's stack to err.
func WithStack(err error) error { return stacked(err, 1) }

// EnsureTrace attaches a stack unless something in err's chain already has one.
func EnsureTrace(err error) error {
	if err == nil {
		return nil
	}
	var hs interface{ StackPCs() []uintptr }
	if errors.As(err, &hs) && len(hs.StackPCs()) > 0 {
		return err
	}
	return stacked(err, 1)
}

func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &wrap{err: err, msg: msg, pc: pcFrom(1)}
}

func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &wrap{err: err, msg: fmt.Sprintf(format, args...), pc: pcFrom(1)}
}
