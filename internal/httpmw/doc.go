// Package httpmw holds the HTTP middleware shared by the public server and
// the site pipeline.
//
// httpserver.NewHandler composes them outermost first: recovery, security
// headers, request ID, client IP, rate limiting, OTel tracing, content
// bundle headers, trace headers, metrics, request logger, then the chi
// router with route annotation, access log and body limit.
//
// ResponseBuffer and FileInfoSetter are used by the pipeline layers that
// must see a downstream response before the client does. Only values the
// server derives itself are logged; query strings, user agents and cookies
// stay out of log fields.
package httpmw
