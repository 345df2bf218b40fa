// Package wire defines the control channel between a host process and one
// isolation worker: a pair of ordered, point-to-point message streams with
// one JSON frame per line. The protocol is strictly blocking
// request/response; the nested callback round-trip reuses the same streams
// and is single-outstanding by construction.
package wire

import (
	"bufio"
	"fmt"
	"io"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/LuaWard/internal/engine"
)

// Op identifies a host-to-worker command.
type Op string

const (
	OpExecute Op = "execute"
	OpCall    Op = "call"
	OpExists  Op = "exists"
	OpClose   Op = "close"
	// OpCallbackResult answers a StatusCallback frame. Valid only while a
	// guest execution is outstanding.
	OpCallbackResult Op = "callback_result"
)

// Status identifies a worker-to-host frame.
type Status string

const (
	StatusOK       Status = "ok"
	StatusError    Status = "error"
	StatusCallback Status = "callback"
)

// Request is a host-to-worker frame.
type Request struct {
	Op     Op             `json:"op"`
	Script string         `json:"script,omitempty"`
	Name   string         `json:"name,omitempty"`
	Args   []engine.Value `json:"args,omitempty"`

	// Callback round-trip payload (OpCallbackResult only). A non-empty
	// CallbackErr means the host-side callback failed.
	Result      engine.Value `json:"result"`
	CallbackErr string       `json:"callback_err,omitempty"`
}

// Response is a worker-to-host frame.
type Response struct {
	Status  Status       `json:"status"`
	Value   engine.Value `json:"value"`
	ErrKind string       `json:"err_kind,omitempty"`
	ErrMsg  string       `json:"err_msg,omitempty"`

	// Nested callback request (StatusCallback only).
	Callback string         `json:"callback,omitempty"`
	Args     []engine.Value `json:"args,omitempty"`
}

// Err reconstructs the classified error carried by a StatusError frame.
func (r *Response) Err() error {
	return engine.NewError(engine.KindFromString(r.ErrKind), "%s", r.ErrMsg)
}

// ErrorResponse builds a StatusError frame from a classified error.
func ErrorResponse(err error) *Response {
	resp := &Response{Status: StatusError, ErrMsg: err.Error()}
	if e, ok := err.(*engine.Error); ok {
		resp.ErrKind = e.Kind.String()
		resp.ErrMsg = e.Message
	} else {
		resp.ErrKind = engine.KindGuestRuntime.String()
	}
	return resp
}

// Codec frames sonic-encoded messages, one per line, over a reader/writer
// pair. It is not safe for concurrent use; the protocol never needs it.
type Codec struct {
	r *bufio.Reader
	w *bufio.Writer
}

// NewCodec wraps the channel endpoints.
func NewCodec(r io.Reader, w io.Writer) *Codec {
	return &Codec{
		r: bufio.NewReader(r),
		w: bufio.NewWriter(w),
	}
}

func (c *Codec) WriteRequest(req *Request) error { return c.write(req) }

func (c *Codec) WriteResponse(resp *Response) error { return c.write(resp) }

func (c *Codec) ReadRequest(req *Request) error { return c.read(req) }

func (c *Codec) ReadResponse(resp *Response) error { return c.read(resp) }

func (c *Codec) write(v interface{}) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if _, err := c.w.Write(data); err != nil {
		return err
	}
	if err := c.w.WriteByte('\n'); err != nil {
		return err
	}
	return c.w.Flush()
}

func (c *Codec) read(v interface{}) error {
	line, err := c.r.ReadBytes('\n')
	if err != nil {
		return err
	}
	if err := sonic.Unmarshal(line, v); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	return nil
}
