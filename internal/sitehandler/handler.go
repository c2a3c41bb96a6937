// Package sitehandler assembles the site pipeline for one root directory.
// From outer to inner: the ETag validator, the combine engine, then the
// single-file static server. Whatever none of them answers falls through to
// the handler the pipeline wraps.
package sitehandler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/keithlinneman/combostatic/internal/combine"
	"github.com/keithlinneman/combostatic/internal/etag"
	"github.com/keithlinneman/combostatic/internal/httpmw"
	"github.com/keithlinneman/combostatic/internal/static"
)

// New validates opts against root and returns the pipeline as middleware.
func New(root string, opts Options) (func(http.Handler) http.Handler, error) {
	opts.setDefaults()

	engine, err := combine.New(root, combine.Options{
		Identifier: opts.Identifier,
		Observer:   opts.Observer,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}

	files, err := static.New(root, static.Options{
		Logger:       opts.Logger,
		Index:        opts.Index,
		DisableIndex: opts.DisableIndex,
		MaxAge:       opts.MaxAge,
		Hidden:       opts.Hidden,
		Defer:        opts.Defer,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}

	opts.Logger.Info(context.Background(), "site pipeline ready",
		"root", engine.Root(),
		"identifier", engine.Identifier(),
		"defer", opts.Defer,
		"weak_etag", opts.Weak,
	)

	validate := etag.Middleware(etag.Options{Weak: opts.Weak})

	return func(next http.Handler) http.Handler {
		return httpmw.Chain(next, validate, engine.Middleware, files.Middleware)
	}, nil
}

// NewHandler is New with a plain 404 beneath the pipeline.
func NewHandler(root string, opts Options) (http.Handler, error) {
	mw, err := New(root, opts)
	if err != nil {
		return nil, err
	}
	return mw(http.HandlerFunc(http.NotFound)), nil
}

// Classifier labels requests for metrics, traces and access logs:
// "combine" for requests the engine would answer, "static" otherwise.
// An empty identifier means the default.
func Classifier(identifier string) httpmw.RouteClassifier {
	if identifier == "" {
		identifier = combine.DefaultIdentifier
	}
	return func(r *http.Request) string {
		if combine.IsRequest(r, identifier) {
			return "combine"
		}
		return "static"
	}
}

// Cost weighs a request for rate limiting: one token per listed item for
// combine requests, one for everything else.
func Cost(identifier string) func(*http.Request) int {
	if identifier == "" {
		identifier = combine.DefaultIdentifier
	}
	return func(r *http.Request) int {
		if n := combine.ItemCount(r, identifier); n > 1 {
			return n
		}
		return 1
	}
}
