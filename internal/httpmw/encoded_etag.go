package httpmw

import (
	"net/http"
	"strings"

	"github.com/felixge/httpsnoop"
)

// WeakenEncodedETag marks a strong ETag weak when a content coding was
// applied beneath it. The encoded bytes are not the ones the tag was computed
// over, so only weak equivalence still holds. It must sit outside the
// compressor.
func WeakenEncodedETag(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hooks := httpsnoop.Hooks{
			WriteHeader: func(write httpsnoop.WriteHeaderFunc) httpsnoop.WriteHeaderFunc {
				return func(code int) {
					weakenETag(w.Header())
					write(code)
				}
			},
		}
		next.ServeHTTP(httpsnoop.Wrap(w, hooks), r)
	})
}

func weakenETag(h http.Header) {
	tag := h.Get("ETag")
	if tag == "" || strings.HasPrefix(tag, "W/") || h.Get("Content-Encoding") == "" {
		return
	}
	h.Set("ETag", "W/"+tag)
}
