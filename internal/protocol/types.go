// Package protocol implements the text wire format spoken by the server: an
// HTTP-shaped request line, optional headers and a JSON body for PUT, and a
// plain-text HTTP-shaped response.
package protocol

import "fmt"

// Op identifies what a request asks the store to do.
type Op int

const (
	OpInvalid Op = iota
	OpPut
	OpGet
)

func (op Op) String() string {
	switch op {
	case OpPut:
		return "PUT"
	case OpGet:
		return "GET"
	default:
		return "INVALID"
	}
}

// Request is one parsed client request. Value is only set for OpPut.
// Reason explains an OpInvalid classification and is only used for logging.
type Request struct {
	Op     Op
	Key    string
	Value  any
	Reason string
}

func (r Request) String() string {
	if r.Op == OpInvalid {
		return fmt.Sprintf("INVALID(%s)", r.Reason)
	}
	return fmt.Sprintf("%s %q", r.Op, r.Key)
}

func invalid(reason string) Request {
	return Request{Op: OpInvalid, Reason: reason}
}

// Status is the outcome reported on the response status line.
type Status int

const (
	StatusOK Status = iota
	StatusBadRequest
	StatusTooManyRequests
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "200 OK"
	case StatusBadRequest:
		return "400 Bad Request"
	case StatusTooManyRequests:
		return "429 Too Many Requests"
	default:
		return fmt.Sprintf("%d", int(s))
	}
}

// Response is what the server writes back before closing the connection.
type Response struct {
	Status Status
	Body   string
}

const (
	BodyPutOK           = "PUT successful"
	BodyInvalid         = "Invalid request"
	BodyTooManyRequests = "Too many requests"
	getResultPrefix     = "GET result: "
)
