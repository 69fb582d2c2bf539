// Package jsonrpc implements the JSON-RPC clients used to reach remote daemons. Responses keep every JSON number as
// a json.Number so 64-bit integers are never rounded.
package jsonrpc

import (
	"context"
	"encoding/base64"
	stdjson "encoding/json"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/valyala/fasthttp"

	"github.com/tarancss/chainkit/lib/config"
)

// Drivers
const (
	JSON          = "json"          // plain JSON-RPC 2.0
	JSONMeta      = "jsonmeta"      // lifts _request_id and _request_count from the params into the request
	JSONRequestID = "jsonrequestid" // like jsonmeta but _request_id is mandatory
)

// Meta parameters lifted into the request envelope.
const (
	RequestIDParam    = "_request_id"
	RequestCountParam = "_request_count"
)

var json = jsoniter.Config{UseNumber: true, EscapeHTML: false}.Froze()

// Errors returned
var (
	ErrUnknownDriver    = errors.New("unknown RPC driver")
	ErrMissingRequestID = errors.New("missing obligatory '_request_id' parameter")
)

// Error is an error answered by the remote daemon, either as a JSON-RPC error object or as an HTTP status.
type Error struct {
	Code       int64
	Message    string
	HTTPStatus int
}

func (e *Error) Error() string {
	if e.HTTPStatus != fasthttp.StatusOK {
		return fmt.Sprintf("HTTP code: %d, code %d: %s", e.HTTPStatus, e.Code, e.Message)
	}

	return fmt.Sprintf("code %d: %s", e.Code, e.Message)
}

// Options sets the timeouts of a client.
type Options struct {
	ConnectTimeout time.Duration
	CallTimeout    time.Duration
}

// Client is a JSON-RPC client to one daemon. It is safe for concurrent use.
type Client struct {
	conf    config.DaemonConfig
	driver  string
	auth    string
	timeout time.Duration
	hc      *fasthttp.Client
	id      uint64
}

// New returns a client for the daemon, which must have a supported driver.
func New(d config.DaemonConfig, o Options) (*Client, error) {
	switch d.Driver {
	case "", JSON:
		d.Driver = JSON
	case JSONMeta, JSONRequestID:
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, d.Driver)
	}

	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 5 * time.Second //nolint:gomnd // default connect timeout
	}

	if o.CallTimeout <= 0 {
		o.CallTimeout = 30 * time.Second //nolint:gomnd // default call timeout
	}

	c := &Client{conf: d, driver: d.Driver, timeout: o.CallTimeout}
	if d.User != "" {
		c.auth = "Basic " + base64.StdEncoding.EncodeToString([]byte(d.User+":"+d.Password))
	}

	connect := o.ConnectTimeout
	c.hc = &fasthttp.Client{
		Name: "chainkit",
		Dial: func(addr string) (net.Conn, error) {
			return fasthttp.DialTimeout(addr, connect)
		},
	}

	return c, nil
}

// Address returns the daemon address.
func (c *Client) Address() string { return c.conf.Address }

// request builds the JSON-RPC request of a call according to the driver.
func (c *Client) request(method string, params interface{}) (map[string]interface{}, error) {
	req := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      atomic.AddUint64(&c.id, 1),
		"method":  method,
	}

	if c.driver != JSON {
		m, _ := params.(map[string]interface{})
		if c.driver == JSONRequestID && (m == nil || m[RequestIDParam] == nil || m[RequestIDParam] == "") {
			return nil, ErrMissingRequestID
		}

		if m != nil {
			rest := make(map[string]interface{}, len(m))
			for k, v := range m {
				if k == RequestIDParam || (k == RequestCountParam && c.driver == JSONMeta) {
					req[k] = v

					continue
				}

				rest[k] = v
			}

			params = rest
		}
	}

	if params != nil {
		req["params"] = params
	}

	return req, nil
}

// Call executes method with params and returns the decoded result.
func (c *Client) Call(ctx context.Context, method string, params interface{}) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r, err := c.request(method, params)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("cannot encode request: %w", err)
	}

	status, resp, err := do(ctx, c.hc.DoDeadline, deadline(ctx, c.timeout), func(req *fasthttp.Request) {
		req.SetRequestURI(c.conf.Address)
		req.Header.SetMethod(fasthttp.MethodPost)
		req.Header.SetContentType("application/json")

		if c.auth != "" {
			req.Header.Set(fasthttp.HeaderAuthorization, c.auth)
		}

		req.SetBody(body)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}

	return decode(status, resp)
}

type reply struct {
	status int
	body   []byte
	err    error
}

// do runs the request built by build in its own goroutine and returns as soon as it answers or ctx is done. The
// goroutine owns the request and response, so an abandoned call releases them when the transport gives up at dl.
func do(ctx context.Context, doDeadline func(*fasthttp.Request, *fasthttp.Response, time.Time) error, dl time.Time,
	build func(*fasthttp.Request),
) (int, []byte, error) {
	ch := make(chan reply, 1)

	go func() {
		req := fasthttp.AcquireRequest()
		defer fasthttp.ReleaseRequest(req)

		resp := fasthttp.AcquireResponse()
		defer fasthttp.ReleaseResponse(resp)

		build(req)

		if err := doDeadline(req, resp, dl); err != nil {
			ch <- reply{err: err}

			return
		}

		ch <- reply{status: resp.StatusCode(), body: append([]byte(nil), resp.Body()...)}
	}()

	select {
	case r := <-ch:
		if r.err != nil && ctx.Err() != nil {
			return 0, nil, ctx.Err()
		}

		return r.status, r.body, r.err
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

// deadline returns the earliest of the context deadline and now+timeout.
func deadline(ctx context.Context, timeout time.Duration) time.Time {
	d := time.Now().Add(timeout)
	if cd, ok := ctx.Deadline(); ok && cd.Before(d) {
		return cd
	}

	return d
}

type response struct {
	Result interface{} `json:"result"`
	Error  interface{} `json:"error"`
}

func decode(status int, body []byte) (interface{}, error) {
	var r response

	decErr := json.Unmarshal(body, &r)

	if status != fasthttp.StatusOK {
		e := &Error{Code: -1, Message: fasthttp.StatusMessage(status), HTTPStatus: status}
		if decErr == nil && r.Error != nil {
			e.Code, e.Message = errorFields(r.Error)
		}

		return nil, e
	}

	if decErr != nil {
		return nil, fmt.Errorf("cannot decode response: %w", decErr)
	}

	if r.Error != nil {
		e := &Error{HTTPStatus: status}
		e.Code, e.Message = errorFields(r.Error)

		return nil, e
	}

	return r.Result, nil
}

func errorFields(v interface{}) (int64, string) {
	switch t := v.(type) {
	case map[string]interface{}:
		var code int64 = -1
		if n, ok := t["code"].(stdjson.Number); ok {
			if c, err := n.Int64(); err == nil {
				code = c
			}
		}

		msg, _ := t["message"].(string)
		if data, ok := t["data"]; ok && msg == "" {
			msg = fmt.Sprint(data)
		}

		return code, msg
	case string:
		return -1, t
	}

	return -1, fmt.Sprint(v)
}

// Get performs a GET against address and returns the status code and body.
func Get(ctx context.Context, address string, timeout time.Duration) (int, []byte, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}

	return do(ctx, fasthttp.DoDeadline, deadline(ctx, timeout), func(req *fasthttp.Request) {
		req.SetRequestURI(address)
		req.Header.SetMethod(fasthttp.MethodGet)
	})
}
