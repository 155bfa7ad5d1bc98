package recorder

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
)

// ResponseRecorder is an http.ResponseWriter that records the response
// instead of sending it, so that a handler can be used like a network round trip.
type ResponseRecorder struct {
	b            *bytes.Buffer
	header       http.Header
	written      http.Header
	status       int
	wroteHeaders bool
}

// Implementation of http.ResponseWriter
func (t *ResponseRecorder) Header() http.Header {
	return t.header
}

// Implementation of http.ResponseWriter
func (t *ResponseRecorder) WriteHeader(statusCode int) {
	if t.wroteHeaders {
		return
	}
	t.wroteHeaders = true
	t.status = statusCode
	// later header changes must not change the recorded response
	t.written = t.header.Clone()
}

// Implementation of http.ResponseWriter
func (t *ResponseRecorder) Write(b []byte) (int, error) {
	if !t.wroteHeaders {
		t.WriteHeader(http.StatusOK)
	}
	return t.b.Write(b)
}

// Flush implements http.Flusher. There is nothing to flush.
func (t *ResponseRecorder) Flush() {}

// StatusCode returns the status code of the response.
// It is 200 if the handler did not write anything.
func (t *ResponseRecorder) StatusCode() int {
	if !t.wroteHeaders {
		return http.StatusOK
	}
	return t.status
}

// Result returns the recorded response.
func (t *ResponseRecorder) Result(req *http.Request) *http.Response {
	status := t.StatusCode()
	header := t.header
	if t.wroteHeaders {
		header = t.written
	}
	body := append([]byte(nil), t.b.Bytes()...)
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header.Clone(),
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

// NewResponseRecorder returns a new ResponseRecorder.
func NewResponseRecorder() *ResponseRecorder {
	return &ResponseRecorder{
		b:      &bytes.Buffer{},
		header: http.Header{},
	}
}
