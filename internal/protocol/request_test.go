package protocol

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
)

func TestReadRequest(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Request
	}{
		{
			name:  "put string value",
			input: "PUT / HTTP/1.1\r\nHost: localhost\r\nContent-Type: application/json\r\n\r\n{\"key\": \"a\", \"value\": \"hello\"}",
			want:  Request{Op: OpPut, Key: "a", Value: "hello"},
		},
		{
			name:  "put with content length",
			input: "PUT /store HTTP/1.1\r\nContent-Length: 25\r\n\r\n{\"key\":\"n\",\"value\":42}   trailing",
			want:  Request{Op: OpPut, Key: "n", Value: json.Number("42")},
		},
		{
			name:  "put bare newlines",
			input: "PUT / HTTP/1.1\nHost: x\n\n{\"key\":\"b\",\"value\":[1,\"two\"]}",
			want:  Request{Op: OpPut, Key: "b", Value: []any{json.Number("1"), "two"}},
		},
		{
			name:  "put object value",
			input: "PUT / HTTP/1.1\r\n\r\n{\"key\":\"o\",\"value\":{\"x\":true}}",
			want:  Request{Op: OpPut, Key: "o", Value: map[string]any{"x": true}},
		},
		{
			name:  "put null value",
			input: "PUT / HTTP/1.1\r\n\r\n{\"key\":\"z\",\"value\":null}",
			want:  Request{Op: OpPut, Key: "z", Value: nil},
		},
		{
			name:  "get",
			input: "GET /?key=a HTTP/1.1\r\nHost: localhost\r\n\r\n",
			want:  Request{Op: OpGet, Key: "a"},
		},
		{
			name:  "get key among other params is not decoded",
			input: "GET /items?x=1&key=abc%20d&y=2 HTTP/1.1\r\n\r\n",
			want:  Request{Op: OpGet, Key: "abc%20d"},
		},
		{
			name:  "get without trailing headers",
			input: "GET /?key=k",
			want:  Request{Op: OpGet, Key: "k"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ReadRequest(strings.NewReader(tt.input), DefaultMaxRequestBytes)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadRequest_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		reason string
	}{
		{"unknown method", "FOO /bar HTTP/1.1\r\n\r\n", `unknown method "FOO"`},
		{"delete", "DELETE /?key=a HTTP/1.1\r\n\r\n", `unknown method "DELETE"`},
		{"lowercase method", "get /?key=a HTTP/1.1\r\n\r\n", `unknown method "get"`},
		{"empty line", "\r\n", "empty request line"},
		{"get without query", "GET /a HTTP/1.1\r\n\r\n", "missing query"},
		{"get without target", "GET\r\n\r\n", "missing query"},
		{"get other param", "GET /?name=a HTTP/1.1\r\n\r\n", "missing key parameter"},
		{"get empty key", "GET /?key= HTTP/1.1\r\n\r\n", "empty key"},
		{"put invalid json", "PUT / HTTP/1.1\r\n\r\n{\"key\": \"a\", \"value\": }", ""},
		{"put missing key", "PUT / HTTP/1.1\r\n\r\n{\"value\": 1}", "body key missing or not a string"},
		{"put numeric key", "PUT / HTTP/1.1\r\n\r\n{\"key\": 1, \"value\": 1}", "body key missing or not a string"},
		{"put missing value", "PUT / HTTP/1.1\r\n\r\n{\"key\": \"a\"}", "body value missing"},
		{"put array body", "PUT / HTTP/1.1\r\n\r\n[1,2]", ""},
		{"put no body", "PUT / HTTP/1.1\r\n\r\n", ""},
		{"put bad content length", "PUT / HTTP/1.1\r\nContent-Length: -3\r\n\r\n{}", "bad Content-Length"},
		{"put short content length", "PUT / HTTP/1.1\r\nContent-Length: 5\r\n\r\n{\"key\":\"a\",\"value\":1}", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ReadRequest(strings.NewReader(tt.input), DefaultMaxRequestBytes)
			assert.Equal(t, OpInvalid, got.Op)
			assert.Empty(t, got.Key)
			assert.Nil(t, got.Value)
			if tt.reason != "" {
				assert.Equal(t, tt.reason, got.Reason)
			} else {
				assert.NotEmpty(t, got.Reason)
			}
		})
	}
}

func TestReadRequest_Empty(t *testing.T) {
	got := ReadRequest(strings.NewReader(""), DefaultMaxRequestBytes)
	assert.Equal(t, OpInvalid, got.Op)
}

func TestReadRequest_TooLarge(t *testing.T) {
	body := `{"key":"big","value":"` + strings.Repeat("x", 200) + `"}`
	input := "PUT / HTTP/1.1\r\n\r\n" + body

	got := ReadRequest(strings.NewReader(input), 64)
	assert.Equal(t, OpInvalid, got.Op)
	assert.Equal(t, "request too large", got.Reason)

	got = ReadRequest(strings.NewReader("GET /?key="+strings.Repeat("k", 100)+" HTTP/1.1\r\n"), 32)
	assert.Equal(t, OpInvalid, got.Op)
	assert.Equal(t, "request too large", got.Reason)

	got = ReadRequest(strings.NewReader(input), int64(len(input)+1))
	assert.Equal(t, OpPut, got.Op)
}

func TestReadRequest_LineFillsBudget(t *testing.T) {
	line := "GET /?key=k HTTP/1.1\r\n"

	got := ReadRequest(strings.NewReader(line), int64(len(line)))
	assert.Equal(t, Request{Op: OpGet, Key: "k"}, got)

	got = ReadRequest(strings.NewReader(line), int64(len(line)-1))
	assert.Equal(t, OpInvalid, got.Op)
	assert.Equal(t, "request too large", got.Reason)
}

// A read error other than EOF mid-line must not let the partial line through
// as a shorter key.
func TestReadRequest_PartialLineThenDeadline(t *testing.T) {
	r := io.MultiReader(
		strings.NewReader("GET /?key=ab"),
		iotest.ErrReader(os.ErrDeadlineExceeded),
	)

	got := ReadRequest(r, DefaultMaxRequestBytes)
	assert.Equal(t, OpInvalid, got.Op)
	assert.Empty(t, got.Key)
}

// TestReadRequest_Fragmented feeds the request one byte per Read call, the
// way a slow client spreads a request over many TCP segments.
func TestReadRequest_Fragmented(t *testing.T) {
	input := "PUT / HTTP/1.1\r\nHost: localhost\r\n\r\n{\"key\":\"frag\",\"value\":{\"list\":[1,2,3]}}"

	got := ReadRequest(iotest.OneByteReader(strings.NewReader(input)), DefaultMaxRequestBytes)
	assert.Equal(t, OpPut, got.Op)
	assert.Equal(t, "frag", got.Key)
	assert.Equal(t, map[string]any{"list": []any{json.Number("1"), json.Number("2"), json.Number("3")}}, got.Value)
}

func TestRequest_String(t *testing.T) {
	assert.Equal(t, `PUT "a"`, Request{Op: OpPut, Key: "a"}.String())
	assert.Equal(t, `GET "b"`, Request{Op: OpGet, Key: "b"}.String())
	assert.Equal(t, "INVALID(empty key)", invalid("empty key").String())
}
