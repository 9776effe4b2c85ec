// Package errors defines the closed set of error kinds the core data
// plane surfaces to a worker thread: SUCCESS is represented by a nil
// error, every other kind by a *KVError carrying a Code.
package errors

import (
	"errors"
	"fmt"
	"path"
	"runtime"
	"strings"
)

type ErrorCode int32

const (
	KeyEnoent      ErrorCode = iota + 1 // no such key
	KeyEexists                          // CAS mismatch, or ADD against an existing key
	NotStored                           // engine store() refused; remapped by the caller's opcode
	Einval                              // malformed request
	NotMyVBucket                        // wrong partition state for this node
	NotSupported                        // engine lacks the hook this opcode needs
	Enomem                              // allocation failed against quota
	Tmpfail                             // transient failure, safe to retry
	Failed                              // internal invariant violation (release-build fallback)
	EWouldBlock                         // step() must suspend; never surfaced to the client
	XattrEinval                         // xattr blob failed structural validation
)

func (c ErrorCode) String() string {
	if s, ok := _codeNames[c]; ok {
		return s
	}
	return "UNKNOWN"
}

var _codeNames = map[ErrorCode]string{
	KeyEnoent:    "KEY_ENOENT",
	KeyEexists:   "KEY_EEXISTS",
	NotStored:    "NOT_STORED",
	Einval:       "EINVAL",
	NotMyVBucket: "NOT_MY_VBUCKET",
	NotSupported: "NOT_SUPPORTED",
	Enomem:       "ENOMEM",
	Tmpfail:      "TMPFAIL",
	Failed:       "FAILED",
	EWouldBlock:  "EWOULDBLOCK",
	XattrEinval:  "XATTR_EINVAL",
}

// KVError is the concrete error type returned by the core. It is never
// constructed directly outside this package; use the New* constructors.
type KVError struct {
	code    ErrorCode
	msg     string
	cause   error
	caller  string
}

func (e *KVError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s - cause: %s", e.code, e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.msg)
}

func (e *KVError) Code() ErrorCode { return e.code }
func (e *KVError) Unwrap() error   { return e.cause }
func (e *KVError) Caller() string  { return e.caller }

func newErr(code ErrorCode, cause error, format string, args ...interface{}) *KVError {
	return &KVError{code: code, msg: fmt.Sprintf(format, args...), cause: cause, caller: CallerN(2)}
}

func NewKeyEnoent(format string, args ...interface{}) *KVError {
	return newErr(KeyEnoent, nil, format, args...)
}

func NewKeyEexists(format string, args ...interface{}) *KVError {
	return newErr(KeyEexists, nil, format, args...)
}

func NewNotStored(format string, args ...interface{}) *KVError {
	return newErr(NotStored, nil, format, args...)
}

func NewEinval(format string, args ...interface{}) *KVError {
	return newErr(Einval, nil, format, args...)
}

func NewNotMyVBucket(format string, args ...interface{}) *KVError {
	return newErr(NotMyVBucket, nil, format, args...)
}

func NewNotSupported(format string, args ...interface{}) *KVError {
	return newErr(NotSupported, nil, format, args...)
}

func NewEnomem(format string, args ...interface{}) *KVError {
	return newErr(Enomem, nil, format, args...)
}

func NewTmpfail(format string, args ...interface{}) *KVError {
	return newErr(Tmpfail, nil, format, args...)
}

// NewFailed wraps an invariant violation. In a release build this is what
// a logic error surfaces as to the worker, logged at WARNING by the
// caller; cause may be nil.
func NewFailed(cause error, format string, args ...interface{}) *KVError {
	return newErr(Failed, cause, format, args...)
}

func NewXattrEinval(format string, args ...interface{}) *KVError {
	return newErr(XattrEinval, nil, format, args...)
}

// ErrEWouldBlock is the sentinel returned by a step() that must suspend
// the command context until a background operation completes. It carries
// no message because it is never logged or shown to a client.
var ErrEWouldBlock = &KVError{code: EWouldBlock, msg: "would block"}

// Code extracts the ErrorCode from err, or Failed if err is a non-nil
// error that did not originate from this package.
func Code(err error) ErrorCode {
	if err == nil {
		return 0
	}
	var kv *KVError
	if errors.As(err, &kv) {
		return kv.code
	}
	return Failed
}

// Is supports errors.Is(err, errors.ErrEWouldBlock) and similar sentinel
// comparisons by code rather than identity, since most KVErrors carrying
// the same code are constructed ad hoc.
func (e *KVError) Is(target error) bool {
	t, ok := target.(*KVError)
	if !ok {
		return false
	}
	return e.code == t.code
}

func CallerN(level int) string {
	_, fname, lineno, ok := runtime.Caller(1 + level)
	if !ok {
		return "unknown:0"
	}
	return fmt.Sprintf("%s:%d", strings.Split(path.Base(fname), ".")[0], lineno)
}
