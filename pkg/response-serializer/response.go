package serializer

import (
	"bufio"
	"bytes"
	"io"
	"net/http"
)

// Clone returns a copy of the response with its own body.
// The body of res is read to the end and replaced, so both responses can be consumed
// independently. Headers and trailers are deep copies.
func Clone(res *http.Response) (*http.Response, error) {
	body, err := ReadBody(res)
	if err != nil {
		return nil, err
	}
	clone := new(http.Response)
	*clone = *res
	clone.Header = res.Header.Clone()
	clone.Trailer = res.Trailer.Clone()
	clone.Body = io.NopCloser(bytes.NewReader(body))
	return clone, nil
}

// ReadBody reads the complete response body and sets it back,
// so that the body is still readable by the next consumer.
// The content length is set to the number of bytes read.
func ReadBody(res *http.Response) ([]byte, error) {
	if res.Body == nil || res.Body == http.NoBody {
		res.ContentLength = 0
		return nil, nil
	}
	body, err := io.ReadAll(res.Body)
	res.Body.Close()
	if err != nil {
		return nil, err
	}
	res.Body = io.NopCloser(bytes.NewReader(body))
	res.ContentLength = int64(len(body))
	res.TransferEncoding = nil
	return body, nil
}

// ResponseToBytes converts a response to a byte slice.
// It returns the HTTP/1.1 representation of the response.
// The body of res stays readable.
// The same status, headers and body always give the same bytes.
func ResponseToBytes(res *http.Response) ([]byte, error) {
	body, err := ReadBody(res)
	if err != nil {
		return nil, err
	}
	wire := &http.Response{
		Status:        res.Status,
		StatusCode:    res.StatusCode,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        res.Header.Clone(),
		ContentLength: int64(len(body)),
		Body:          http.NoBody,
	}
	if wire.Header == nil {
		wire.Header = make(http.Header)
	}
	if len(body) > 0 {
		wire.Body = io.NopCloser(bytes.NewReader(body))
	}
	buf := &bytes.Buffer{}
	if err := wire.Write(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BytesToResponse converts a byte slice created by ResponseToBytes to a http.Response.
// The request is optional and only set as the response request.
func BytesToResponse(b []byte, req *http.Request) (*http.Response, error) {
	return http.ReadResponse(bufio.NewReader(bytes.NewReader(b)), req)
}
