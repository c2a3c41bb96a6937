package httpmw

import (
	"bytes"
	"io/fs"
	"net/http"
)

// FileInfoSetter is implemented by response writers that want to know which
// file backs the body being written. The static file server reports the file
// it serves so outer layers can derive validators from its stat data.
type FileInfoSetter interface {
	SetFileInfo(fi fs.FileInfo)
}

// ResponseBuffer is an http.ResponseWriter that holds the status, headers and
// body in memory until FlushTo is called. Middleware that must inspect or
// replace a downstream response (validators, deferred serving) writes into
// one and decides afterwards what reaches the client.
type ResponseBuffer struct {
	out         http.ResponseWriter
	header      http.Header
	status      int
	wroteHeader bool
	wroteBody   bool
	body        bytes.Buffer
	fileInfo    fs.FileInfo

	onFile    func(h http.Header, fi fs.FileInfo)
	streaming bool
}

// NewResponseBuffer starts a buffer whose headers are a copy of w's, so
// headers set by outer middleware stay visible to inner handlers.
func NewResponseBuffer(w http.ResponseWriter) *ResponseBuffer {
	return &ResponseBuffer{out: w, header: w.Header().Clone()}
}

// StreamFiles makes the buffer stop buffering once the handler reports a
// backing file. The headers gathered so far move to the underlying writer,
// prepare may amend them, and the rest of the response goes straight out.
// Generated bodies are still held until FlushTo.
func (b *ResponseBuffer) StreamFiles(prepare func(h http.Header, fi fs.FileInfo)) {
	b.onFile = prepare
}

func (b *ResponseBuffer) Header() http.Header {
	if b.streaming {
		return b.out.Header()
	}
	return b.header
}

func (b *ResponseBuffer) WriteHeader(code int) {
	if b.wroteHeader {
		return
	}
	b.wroteHeader = true
	b.status = code
	if b.streaming {
		b.out.WriteHeader(code)
	}
}

func (b *ResponseBuffer) Write(p []byte) (int, error) {
	if !b.wroteHeader {
		b.WriteHeader(http.StatusOK)
	}
	b.wroteBody = true
	if b.streaming {
		return b.out.Write(p)
	}
	return b.body.Write(p)
}

func (b *ResponseBuffer) SetFileInfo(fi fs.FileInfo) {
	b.fileInfo = fi
	if b.onFile == nil || b.streaming || b.Written() {
		return
	}
	b.streaming = true
	replaceHeader(b.out.Header(), b.header)
	if s, ok := b.out.(FileInfoSetter); ok {
		s.SetFileInfo(fi)
	}
	b.onFile(b.out.Header(), fi)
}

// Streaming reports whether the response already went to the underlying
// writer, in which case FlushTo has nothing left to do.
func (b *ResponseBuffer) Streaming() bool { return b.streaming }

// Status is the recorded status code, 200 if the handler wrote a body
// without one and 0 if it wrote nothing at all.
func (b *ResponseBuffer) Status() int { return b.status }

// Written reports whether the handler produced any response.
func (b *ResponseBuffer) Written() bool { return b.wroteHeader || b.wroteBody }

func (b *ResponseBuffer) Body() []byte { return b.body.Bytes() }

// FileInfo is the file reported by the handler, nil for generated bodies.
func (b *ResponseBuffer) FileInfo() fs.FileInfo { return b.fileInfo }

// FlushTo copies the recorded response to w. w's headers are replaced by the
// buffered ones. If nothing was written only the headers are copied and the
// status is left to w's default.
func (b *ResponseBuffer) FlushTo(w http.ResponseWriter) error {
	if b.streaming {
		return nil
	}
	replaceHeader(w.Header(), b.header)
	if b.fileInfo != nil {
		if s, ok := w.(FileInfoSetter); ok {
			s.SetFileInfo(b.fileInfo)
		}
	}
	if !b.Written() {
		return nil
	}
	w.WriteHeader(b.status)
	if b.body.Len() == 0 {
		return nil
	}
	_, err := w.Write(b.body.Bytes())
	return err
}

func replaceHeader(dst, src http.Header) {
	for k := range dst {
		if _, ok := src[k]; !ok {
			delete(dst, k)
		}
	}
	for k, v := range src {
		dst[k] = v
	}
}
