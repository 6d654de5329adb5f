package common

import (
	"fmt"
	"strings"
)

// ErrCode enumerates the error taxonomy this decoder raises. Unlike the
// teacher's library-wide ocsd.Err (which spans the whole CoreSight decode
// tree - memory access, disassembly, snapshot parsing, ...) this is scoped
// to the conditions spec.md §7 actually describes: a bad packet sequence,
// an unrecognised header, an unsupported protocol/config value, or a
// not-yet-initialised decoder.
type ErrCode int

const (
	ErrNone ErrCode = iota
	ErrBadPacketSeq
	ErrInvalidPcktHdr
	ErrHWCfgUnsupp
	ErrNotInit
	ErrInvalidParamVal
)

var errCodeDesc = map[ErrCode]string{
	ErrNone:            "no error",
	ErrBadPacketSeq:    "bad packet sequence",
	ErrInvalidPcktHdr:  "invalid or reserved packet header",
	ErrHWCfgUnsupp:     "unsupported protocol or configuration value",
	ErrNotInit:         "decoder not initialised",
	ErrInvalidParamVal: "invalid parameter value",
}

func (c ErrCode) String() string {
	if d, ok := errCodeDesc[c]; ok {
		return d
	}
	return "unknown error"
}

// Error is the library error object: a severity, a code, and a message.
// Adapted from the teacher's internal/common.Error (internal/common/error.go),
// trimmed of the trace-index/channel-ID fields that only matter to a
// multi-source decode tree.
type Error struct {
	Code    ErrCode
	Sev     Severity
	Message string
}

// NewError builds an Error with a formatted message.
func NewError(sev Severity, code ErrCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Sev: sev, Message: fmt.Sprintf(format, args...)}
}

// Error implements the standard error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Sev.String())
	sb.WriteString(": (")
	sb.WriteString(e.Code.String())
	sb.WriteString(") ")
	sb.WriteString(e.Message)
	return sb.String()
}
