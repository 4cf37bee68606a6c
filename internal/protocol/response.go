package protocol

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/textproto"
	"strings"
)

// OK builds a 200 response.
func OK(body string) Response {
	return Response{Status: StatusOK, Body: body}
}

// BadRequest is the response for every request that failed to parse.
func BadRequest() Response {
	return Response{Status: StatusBadRequest, Body: BodyInvalid}
}

// TooManyRequests is sent to clients rejected by admission control.
func TooManyRequests() Response {
	return Response{Status: StatusTooManyRequests, Body: BodyTooManyRequests}
}

// GetResult renders the body of a GET response.
func GetResult(value any) Response {
	return OK(getResultPrefix + FormatValue(value))
}

// FormatValue renders strings verbatim and everything else as compact JSON.
func FormatValue(value any) string {
	if s, ok := value.(string); ok {
		return s
	}
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprint(value)
	}
	return string(b)
}

// WriteResponse serialises resp onto w.
func WriteResponse(w io.Writer, resp Response) error {
	_, err := fmt.Fprintf(w, "HTTP/1.1 %s\r\nContent-Type: text/plain\r\n\r\n%s", resp.Status, resp.Body)
	return err
}

// ReadResponse parses a response written by WriteResponse. The body runs
// to EOF since the server closes the connection after writing.
func ReadResponse(r io.Reader) (Response, error) {
	tp := textproto.NewReader(bufio.NewReader(r))
	line, err := tp.ReadLine()
	if err != nil {
		return Response{}, fmt.Errorf("read status line: %w", err)
	}

	var resp Response
	switch strings.TrimPrefix(line, "HTTP/1.1 ") {
	case StatusOK.String():
		resp.Status = StatusOK
	case StatusBadRequest.String():
		resp.Status = StatusBadRequest
	case StatusTooManyRequests.String():
		resp.Status = StatusTooManyRequests
	default:
		return Response{}, fmt.Errorf("unexpected status line %q", line)
	}

	if _, err := tp.ReadMIMEHeader(); err != nil {
		return Response{}, fmt.Errorf("read headers: %w", err)
	}
	body, err := io.ReadAll(tp.R)
	if err != nil {
		return Response{}, fmt.Errorf("read body: %w", err)
	}
	resp.Body = string(body)
	return resp, nil
}
