package store

import "fmt"

// StoreError represents a domain error from store and access operations.
//
// These are business logic errors (file not found, permission denied, etc.)
// as opposed to infrastructure errors (network failure, disk error).
//
// Protocol handlers translate StoreError codes to protocol-specific status
// codes (e.g., NFS3ERR_STALE, NFS4ERR_ACCESS). Compare errors with errors.Is
// against the sentinel code values:
//
//	if errors.Is(err, store.ErrStaleHandle) {
//	    return nfs.NFS3ErrStale
//	}
type StoreError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Path is the name or path related to the error (if applicable)
	Path string

	// Err is the underlying cause, if any
	Err error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code.String()
	}
	if e.Path != "" {
		msg = msg + ": " + e.Path
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the same error category.
//
// Both *StoreError values and bare ErrorCode values are accepted as targets.
func (e *StoreError) Is(target error) bool {
	switch t := target.(type) {
	case ErrorCode:
		return e.Code == t
	case *StoreError:
		return e.Code == t.Code
	}
	return false
}

// ErrorCode represents the category of a store error.
//
// ErrorCode itself implements error so that codes can be used directly as
// errors.Is targets.
type ErrorCode int

const (
	// ErrNotFound indicates the requested object doesn't exist
	ErrNotFound ErrorCode = iota + 1

	// ErrNoSuchExport indicates no export rule matches the client and path
	ErrNoSuchExport

	// ErrPermissionDenied indicates an ACL, unix, squash, security flavor,
	// read-only or privileged port check failed
	ErrPermissionDenied

	// ErrStaleHandle indicates a generation mismatch or an undecodable handle
	ErrStaleHandle

	// ErrNotDirectory indicates the operation expected a directory
	ErrNotDirectory

	// ErrIsDirectory indicates the operation expected a non-directory
	ErrIsDirectory

	// ErrNameTooLong indicates a name exceeds MaxNameLen bytes
	ErrNameTooLong

	// ErrInvalidName indicates an empty name or a name containing '/'
	ErrInvalidName

	// ErrExists indicates the name already exists in the directory
	ErrExists

	// ErrNotEmpty indicates a directory is not empty
	ErrNotEmpty

	// ErrInvalidArgument indicates invalid parameters were provided
	ErrInvalidArgument

	// ErrBadCookie indicates a directory cookie or verifier is no longer valid
	ErrBadCookie

	// ErrCrossDevice indicates a link or rename across export boundaries
	ErrCrossDevice

	// ErrNotSupported indicates the operation is not supported by the store
	ErrNotSupported

	// ErrBackendUnavailable indicates the backing store cannot serve requests
	ErrBackendUnavailable
)

var errorCodeNames = map[ErrorCode]string{
	ErrNotFound:           "not found",
	ErrNoSuchExport:       "no such export",
	ErrPermissionDenied:   "permission denied",
	ErrStaleHandle:        "stale handle",
	ErrNotDirectory:       "not a directory",
	ErrIsDirectory:        "is a directory",
	ErrNameTooLong:        "name too long",
	ErrInvalidName:        "invalid name",
	ErrExists:             "already exists",
	ErrNotEmpty:           "directory not empty",
	ErrInvalidArgument:    "invalid argument",
	ErrBadCookie:          "bad cookie",
	ErrCrossDevice:        "cross-device operation",
	ErrNotSupported:       "not supported",
	ErrBackendUnavailable: "backend unavailable",
}

// String returns the human-readable category name.
func (c ErrorCode) String() string {
	if name, ok := errorCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("error(%d)", int(c))
}

// Error implements the error interface.
func (c ErrorCode) Error() string {
	return c.String()
}

// NewError creates a StoreError with a formatted message.
func NewError(code ErrorCode, path string, format string, args ...any) *StoreError {
	return &StoreError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Path:    path,
	}
}

// WrapError wraps err into a StoreError of the given category.
func WrapError(code ErrorCode, err error, format string, args ...any) *StoreError {
	return &StoreError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}
