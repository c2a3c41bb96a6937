package httpmw

import (
	"fmt"
	"net/http"

	"github.com/keithlinneman/combostatic/internal/log"
	"github.com/keithlinneman/combostatic/internal/xerrors"
)

// Recover turns a handler panic into a logged error and a 500 response.
// onPanic, when set, runs after the panic is logged (metrics hook).
func Recover(logger log.Logger, onPanic func()) func(http.Handler) http.Handler {
	if logger == nil {
		logger = log.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				// let net/http handle its own abort sentinel
				if v == http.ErrAbortHandler {
					panic(v)
				}

				var err error
				switch x := v.(type) {
				case error:
					// the deferred call still runs on the panicking stack
					err = xerrors.WithStack(fmt.Errorf("panic: %w", x))
				default:
					err = xerrors.Newf("panic: %v", x)
				}

				ctx := r.Context()
				logger.With("http.request.method", r.Method, "url.path", r.URL.Path).
					Error(ctx, err, "httpserver panic recovered")

				if onPanic != nil {
					onPanic()
				}
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
