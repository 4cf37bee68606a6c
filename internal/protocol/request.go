package protocol

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"net/textproto"
	"strconv"
	"strings"
)

// DefaultMaxRequestBytes bounds how much of a connection ReadRequest consumes.
const DefaultMaxRequestBytes = 1 << 20

// ErrRequestTooLarge is reported once a request exceeds its byte budget.
var ErrRequestTooLarge = errors.New("request too large")

type limitedReader struct {
	r io.Reader
	n int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.n <= 0 {
		return 0, ErrRequestTooLarge
	}
	if int64(len(p)) > l.n {
		p = p[:l.n]
	}
	n, err := l.r.Read(p)
	l.n -= int64(n)
	return n, err
}

type parseState int

const (
	stateRequestLine parseState = iota
	stateHeaders
	stateBody
	stateDone
)

type parser struct {
	br     *bufio.Reader
	tp     *textproto.Reader
	state  parseState
	req    Request
	target string
	header textproto.MIMEHeader
}

// ReadRequest reads a single request from r, consuming at most maxBytes.
// It never fails: anything that is not a well formed PUT or GET comes back
// as an OpInvalid request.
//
// GET and unknown methods are decided from the request line alone. Only PUT
// goes on to read headers and a body; without a Content-Length the body is
// taken to be the first JSON document on the stream.
func ReadRequest(r io.Reader, maxBytes int64) Request {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxRequestBytes
	}
	br := bufio.NewReader(&limitedReader{r: r, n: maxBytes})
	p := &parser{br: br, tp: textproto.NewReader(br)}
	return p.run()
}

func (p *parser) run() Request {
	for p.state != stateDone {
		var err error
		switch p.state {
		case stateRequestLine:
			err = p.readRequestLine()
		case stateHeaders:
			err = p.readHeaders()
		case stateBody:
			err = p.readBody()
		}
		if err != nil {
			return invalid(reason(err))
		}
	}
	return p.req
}

type parseError string

func (e parseError) Error() string { return string(e) }

func reason(err error) string {
	var pe parseError
	switch {
	case errors.Is(err, ErrRequestTooLarge):
		return ErrRequestTooLarge.Error()
	case errors.As(err, &pe):
		return string(pe)
	default:
		return err.Error()
	}
}

// readRequestLine accepts an unterminated line only at a clean EOF. Any other
// read error, a deadline included, fails the request even after a partial
// line has arrived.
func (p *parser) readRequestLine() error {
	line, err := p.br.ReadString('\n')
	if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
		return err
	}
	line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return parseError("empty request line")
	}
	if len(fields) > 1 {
		p.target = fields[1]
	}

	switch fields[0] {
	case "GET":
		key, err := queryKey(p.target)
		if err != nil {
			return err
		}
		p.req = Request{Op: OpGet, Key: key}
		p.state = stateDone
	case "PUT":
		p.req.Op = OpPut
		p.state = stateHeaders
	default:
		return parseError("unknown method " + strconv.Quote(fields[0]))
	}
	return nil
}

// queryKey extracts the raw value of the first key= query parameter.
// No percent-decoding is applied.
func queryKey(target string) (string, error) {
	i := strings.IndexByte(target, '?')
	if i < 0 {
		return "", parseError("missing query")
	}
	for _, param := range strings.Split(target[i+1:], "&") {
		if key, ok := strings.CutPrefix(param, "key="); ok {
			if key == "" {
				return "", parseError("empty key")
			}
			return key, nil
		}
	}
	return "", parseError("missing key parameter")
}

func (p *parser) readHeaders() error {
	header, err := p.tp.ReadMIMEHeader()
	if err != nil {
		if errors.Is(err, ErrRequestTooLarge) {
			return err
		}
		return parseError("malformed headers: " + err.Error())
	}
	p.header = header
	p.state = stateBody
	return nil
}

func (p *parser) readBody() error {
	var body io.Reader = p.br
	if cl := p.header.Get("Content-Length"); cl != "" {
		n, err := strconv.ParseInt(cl, 10, 64)
		if err != nil || n < 0 {
			return parseError("bad Content-Length")
		}
		body = io.LimitReader(p.br, n)
	}

	dec := json.NewDecoder(body)
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, ErrRequestTooLarge) {
			return err
		}
		return parseError("bad body: " + err.Error())
	}

	key, ok := doc["key"].(string)
	if !ok {
		return parseError("body key missing or not a string")
	}
	value, ok := doc["value"]
	if !ok {
		return parseError("body value missing")
	}
	p.req.Key = key
	p.req.Value = value
	p.state = stateDone
	return nil
}
