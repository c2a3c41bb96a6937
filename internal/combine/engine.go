package combine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/keithlinneman/combostatic/internal/log"
	"github.com/keithlinneman/combostatic/internal/pathutil"
	"github.com/keithlinneman/combostatic/internal/xerrors"
)

// DefaultIdentifier marks a URL as a combine request.
const DefaultIdentifier = "??"

// Observer receives one call per combine request that the engine handled.
// outcome is one of "ok", "not_found" or "error".
type Observer interface {
	ObserveCombine(outcome string, resolved, skipped, bytes int)
}

type Options struct {
	// Identifier is the marker substring, default "??".
	Identifier string
	// Observer is optional.
	Observer Observer
}

// Engine resolves and concatenates combine requests beneath a root directory.
// It holds no per-request state and is safe for concurrent use.
type Engine struct {
	root       string
	identifier string
	observer   Observer
}

// Result is the aggregate of one combine request.
type Result struct {
	Body         []byte
	ContentType  string
	LastModified time.Time
	Resolved     int
	Skipped      int
}

// New builds an Engine for root. root must be an existing directory; it is
// made absolute and symlink-resolved once here.
func New(root string, opts Options) (*Engine, error) {
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: root %q: %v", ErrInvalidOptions, root, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: root %q: %v", ErrInvalidOptions, root, err)
	}
	fi, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("%w: root %q: %v", ErrInvalidOptions, root, err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("%w: root %q is not a directory", ErrInvalidOptions, root)
	}

	id := opts.Identifier
	if id == "" {
		id = DefaultIdentifier
	}
	return &Engine{root: resolved, identifier: id, observer: opts.Observer}, nil
}

// Root returns the resolved root directory.
func (e *Engine) Root() string { return e.root }

// Identifier returns the configured marker.
func (e *Engine) Identifier() string { return e.identifier }

// Parse splits a decoded URL into its base path and item list. ok is false
// when the identifier does not occur in decoded.
func (e *Engine) Parse(decoded string) (Request, bool) {
	return parse(decoded, e.identifier)
}

// Combine resolves every item of the decoded URL in list order and
// concatenates the eligible files. It returns ErrNotFound when the result is
// empty and a *StatusError when a filesystem error other than a benign miss
// occurs; no partial result is returned in that case.
func (e *Engine) Combine(ctx context.Context, decoded string) (*Result, error) {
	req, ok := e.Parse(decoded)
	if !ok {
		return nil, ErrNotFound
	}

	tracer := otel.Tracer("combostatic/combine")
	ctx, span := tracer.Start(ctx, "combine")
	defer span.End()
	span.SetAttributes(
		attribute.String("combine.base", req.Base),
		attribute.Int("combine.items", len(req.Items)),
	)

	L := log.FromContext(ctx)
	res := &Result{ContentType: ContentTypeFor(decoded)}
	var buf bytes.Buffer

	for _, item := range req.Items {
		name, reason, err := e.resolve(req.Base, item)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "combine failed")
			return nil, internalError(err)
		}
		if reason != "" {
			res.Skipped++
			L.Debug(ctx, "combine item skipped", "item", item, "reason", reason)
			continue
		}

		mtime, reason, err := appendFile(&buf, name)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "combine failed")
			return nil, internalError(err)
		}
		if reason != "" {
			res.Skipped++
			L.Debug(ctx, "combine item skipped", "item", item, "reason", reason)
			continue
		}

		res.Resolved++
		if mtime.After(res.LastModified) {
			res.LastModified = mtime
		}
	}

	span.SetAttributes(
		attribute.Int("combine.resolved", res.Resolved),
		attribute.Int("combine.skipped", res.Skipped),
		attribute.Int("combine.bytes", buf.Len()),
	)

	if buf.Len() == 0 {
		return res, ErrNotFound
	}
	res.Body = buf.Bytes()
	return res, nil
}

// skip reasons, used for debug logs only
const (
	skipOutsideRoot = "outside_root"
	skipExtension   = "extension"
	skipMissing     = "missing"
	skipNotRegular  = "not_regular"
)

// resolve maps one item to a regular file beneath root. A non-empty reason
// means the item is skipped; err is set only for fatal filesystem errors.
func (e *Engine) resolve(base, item string) (name, reason string, err error) {
	candidate := filepath.Join(e.root, filepath.FromSlash(base), filepath.FromSlash(StripQuery(item)))

	if !pathutil.Within(e.root, candidate) {
		return "", skipOutsideRoot, nil
	}
	if !eligible(filepath.ToSlash(candidate)) {
		return "", skipExtension, nil
	}

	target, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		if pathutil.IsBenignMiss(err) {
			return "", skipMissing, nil
		}
		return "", "", xerrors.Wrapf(err, "resolve %s", item)
	}
	// symlinks may point anywhere, re-check the target
	if !pathutil.Within(e.root, target) {
		return "", skipOutsideRoot, nil
	}

	fi, err := os.Stat(target)
	if err != nil {
		if pathutil.IsBenignMiss(err) {
			return "", skipMissing, nil
		}
		return "", "", xerrors.Wrapf(err, "stat %s", item)
	}
	if !fi.Mode().IsRegular() {
		return "", skipNotRegular, nil
	}
	return target, "", nil
}

// appendFile reads name to completion onto buf and returns its mtime.
// The handle is closed on every path.
func appendFile(buf *bytes.Buffer, name string) (mtime time.Time, reason string, err error) {
	f, err := os.Open(name)
	if err != nil {
		if pathutil.IsBenignMiss(err) {
			return time.Time{}, skipMissing, nil
		}
		return time.Time{}, "", xerrors.Wrapf(err, "open %s", name)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return time.Time{}, "", xerrors.Wrapf(err, "stat %s", name)
	}

	mark := buf.Len()
	if _, err := io.Copy(buf, f); err != nil {
		buf.Truncate(mark)
		return time.Time{}, "", xerrors.Wrapf(err, "read %s", name)
	}
	return fi.ModTime(), "", nil
}
