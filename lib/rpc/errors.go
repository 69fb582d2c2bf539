package rpc

import (
	"errors"
	"fmt"
	"hash/crc32"
	"strings"

	"github.com/tarancss/chainkit/lib/rpc/jsonrpc"
)

// Errors returned
var (
	ErrConfigurationMissing = errors.New("blockchain RPC configuration missing")
	ErrUnknownDaemon        = errors.New("unknown daemon")
)

// Classification identifies a failed call for operational alerting.
type Classification struct {
	Service string `json:"service"` // fingerprint of the daemon name
	Command string `json:"command"` // short code of the command
	Code    int64  `json:"code"`    // upstream code, -1 when the daemon did not answer one
	Message string `json:"message"`
	Node    string `json:"node,omitempty"` // node found in the upstream error
}

// String returns the classification as a short code like "7d2b-GTI(-1)".
func (c Classification) String() string {
	s := fmt.Sprintf("%s-%s(%d)", c.Service, c.Command, c.Code)
	if c.Node != "" {
		s += "@" + c.Node
	}

	return s
}

// UpstreamError is returned by the gateway for any failed call.
type UpstreamError struct {
	Classification
	Err error
}

func (e *UpstreamError) Error() string {
	return e.Classification.String() + ": " + e.Message
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// ServiceCode returns the 4 hex digit fingerprint of a daemon name.
func ServiceCode(daemon string) string {
	return fmt.Sprintf("%04x", crc32.ChecksumIEEE([]byte(daemon))&0xffff) //nolint:gomnd // 16 bits
}

// CommandCode returns the initials of the underscore separated words of command (get_tx_info: GTI) or, for single
// word commands, its first three letters (getrawtransaction: GET).
func CommandCode(command string) string {
	if strings.Contains(command, "_") {
		var b strings.Builder

		for _, w := range strings.Split(command, "_") {
			if w != "" {
				b.WriteByte(w[0])
			}
		}

		return strings.ToUpper(b.String())
	}

	if len(command) > 3 { //nolint:gomnd // prefix length
		command = command[:3]
	}

	return strings.ToUpper(command)
}

// Classify wraps err, the failure of command on daemon. nodes are the node identifiers searched in the error text.
func Classify(daemon, command string, err error, nodes []string) *UpstreamError {
	c := Classification{
		Service: ServiceCode(daemon),
		Command: CommandCode(command),
		Code:    -1,
		Message: err.Error(),
	}

	var re *jsonrpc.Error
	if errors.As(err, &re) {
		c.Code, c.Message = re.Code, re.Message
	}

	text := err.Error()
	for _, n := range nodes {
		if n != "" && strings.Contains(text, n) {
			c.Node = n

			break
		}
	}

	return &UpstreamError{Classification: c, Err: err}
}

// HasHTTPStatus reports whether err carries an upstream HTTP status equal to status.
func HasHTTPStatus(err error, status int) bool {
	var re *jsonrpc.Error

	return errors.As(err, &re) && re.HTTPStatus == status
}
