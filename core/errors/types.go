// Package errors implements the error taxonomy of the transactional file system.
//
// Every failure raised by the store carries a Code. Codes are grouped into
// categories that tell a caller how to react: path and conflict errors are
// rejected synchronously and leave the transaction untouched, lifecycle errors
// signal misuse of a connection, environment errors are fatal at start-up and
// storage errors wrap the underlying filesystem failure.
package errors

import (
	"errors"
	"fmt"
)

// Category groups error codes by the way a caller is expected to handle them.
type Category int

const (
	CategoryUnknown Category = iota

	// CategoryPath covers paths and arguments rejected before any lock is taken.
	CategoryPath

	// CategoryConflict covers lock denials and same-transaction ordering violations.
	CategoryConflict

	// CategoryLifecycle covers operations issued in the wrong transaction state.
	CategoryLifecycle

	// CategoryEnvironment covers unusable storage or write-ahead-log roots.
	CategoryEnvironment

	// CategoryStorage covers failures of the underlying filesystem.
	CategoryStorage
)

var categoryNames = map[Category]string{
	CategoryUnknown:     "unknown",
	CategoryPath:        "path",
	CategoryConflict:    "conflict",
	CategoryLifecycle:   "lifecycle",
	CategoryEnvironment: "environment",
	CategoryStorage:     "storage",
}

func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return "unknown"
}

// Code identifies a single failure kind.
type Code int

const (
	CodeUnknown Code = iota
	CodePathInStoreCantBeRelative
	CodePathNotStartWithRoot
	CodePathInvalid
	CodePathBusy
	CodePathCantBeReadAfterWritten
	CodePathCantBeOperatedAfterDeleted
	CodePathCantBeOperatedAfterMoved
	CodePathCantBeOperatedAfterCopied
	CodeTransactionReuse
	CodeOperationNotAddedDueToState
	CodeOperationCantBeRecovered
	CodeFileSystemNotSupported
	CodePathsOnDifferentVolumes
	CodePathNotInStore
	CodePathInStore
	CodePathIsDirectory
	CodePathNotRegularFile
	CodePathNotDirectory
	CodeUnsupportedLogVersion
	CodeIOFailure
	CodeInvalidArgument
)

type codeInfo struct {
	name     string
	category Category
	format   string
}

var codeTable = map[Code]codeInfo{
	CodeUnknown:                        {"Unknown", CategoryUnknown, "unknown error: %v"},
	CodePathInStoreCantBeRelative:      {"PathInStoreCantBeRelative", CategoryPath, "%s: path given to the store can't be relative: %s"},
	CodePathNotStartWithRoot:           {"PathNotStartWithRoot", CategoryPath, "%s: path given to the store must start with root: %s"},
	CodePathInvalid:                    {"PathInvalid", CategoryPath, "%s: path contains an invalid file name: %s"},
	CodePathBusy:                       {"PathBusy", CategoryConflict, "%s: path is busy, locked by another transaction: %s"},
	CodePathCantBeReadAfterWritten:     {"PathCantBeReadAfterWritten", CategoryConflict, "%s: path can't be read after being written in the same transaction: %s"},
	CodePathCantBeOperatedAfterDeleted: {"PathCantBeOperatedAfterDeleted", CategoryConflict, "%s: path can't be operated after being deleted in the same transaction: %s"},
	CodePathCantBeOperatedAfterMoved:   {"PathCantBeOperatedAfterMoved", CategoryConflict, "%s: path can't be operated after being moved in the same transaction: %s"},
	CodePathCantBeOperatedAfterCopied:  {"PathCantBeOperatedAfterCopied", CategoryConflict, "%s: path can't be operated after being copied in the same transaction: %s"},
	CodeTransactionReuse:               {"TransactionReuse", CategoryLifecycle, "transaction %s can't be reused while in state %s"},
	CodeOperationNotAddedDueToState:    {"OperationNotAddedDueToState", CategoryLifecycle, "%s: operation not added, transaction state is %s and should be %s"},
	CodeOperationCantBeRecovered:       {"OperationCantBeRecovered", CategoryLifecycle, "transaction %s can't reacquire the locks of operation %s"},
	CodeFileSystemNotSupported:         {"FileSystemNotSupported", CategoryEnvironment, "file system not supported: %s"},
	CodePathsOnDifferentVolumes:        {"PathsOnDifferentVolumes", CategoryEnvironment, "write-ahead-log root %s and storage root %s are on different volumes"},
	CodePathNotInStore:                 {"PathNotInStore", CategoryPath, "%s: path not in store: %s"},
	CodePathInStore:                    {"PathInStore", CategoryPath, "%s: path already in store: %s"},
	CodePathIsDirectory:                {"PathIsDirectory", CategoryPath, "%s: path is a directory: %s"},
	CodePathNotRegularFile:             {"PathNotRegularFile", CategoryPath, "%s: path is not a regular file: %s"},
	CodePathNotDirectory:               {"PathNotDirectory", CategoryPath, "%s: path is not a directory: %s"},
	CodeUnsupportedLogVersion:          {"UnsupportedLogVersion", CategoryLifecycle, "transaction log %s has version %d, newest readable version is %d"},
	CodeIOFailure:                      {"IOFailure", CategoryStorage, "%s: storage failure on %s"},
	CodeInvalidArgument:                {"InvalidArgument", CategoryPath, "%s: invalid argument for %s: %s"},
}

func (c Code) String() string {
	if info, ok := codeTable[c]; ok {
		return info.name
	}
	return "Unknown"
}

// Category returns the category the code belongs to.
func (c Code) Category() Category {
	if info, ok := codeTable[c]; ok {
		return info.category
	}
	return CategoryUnknown
}

// AFSError is the error type returned by every store operation.
type AFSError struct {
	Code       Code
	Message    string
	Underlying error
}

func (e *AFSError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Underlying)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AFSError) Unwrap() error {
	return e.Underlying
}

// Is matches any AFSError carrying the same code, so sentinels work with errors.Is.
func (e *AFSError) Is(target error) bool {
	var ae *AFSError
	if errors.As(target, &ae) {
		return e.Code == ae.Code
	}
	return false
}

// Category returns the category of the error code.
func (e *AFSError) Category() Category {
	return e.Code.Category()
}

// New builds an error for code, formatting args into the code's message template.
func New(code Code, args ...any) *AFSError {
	return &AFSError{
		Code:    code,
		Message: formatMessage(code, args),
	}
}

// Wrap builds an error for code around an underlying cause. A nil cause yields nil.
func Wrap(code Code, err error, args ...any) error {
	if err == nil {
		return nil
	}
	var ae *AFSError
	if errors.As(err, &ae) {
		return err
	}
	e := New(code, args...)
	e.Underlying = err
	return e
}

func formatMessage(code Code, args []any) string {
	info, ok := codeTable[code]
	if !ok {
		info = codeTable[CodeUnknown]
	}
	if len(args) == 0 {
		return info.name
	}
	return fmt.Sprintf(info.format, args...)
}

// GetCode extracts the code from err, defaulting to CodeUnknown.
func GetCode(err error) Code {
	var ae *AFSError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeUnknown
}

// GetCategory extracts the category from err. Plain errors that are not
// AFSErrors are treated as storage failures.
func GetCategory(err error) Category {
	if err == nil {
		return CategoryUnknown
	}
	var ae *AFSError
	if errors.As(err, &ae) {
		return ae.Category()
	}
	return CategoryStorage
}

// IsRetryable reports whether retrying the identical call may succeed: the
// path was busy or the filesystem failed underneath.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if GetCode(err) == CodePathBusy {
		return true
	}
	return GetCategory(err) == CategoryStorage
}

// Sentinels for errors.Is comparisons.
var (
	ErrPathInStoreCantBeRelative      = &AFSError{Code: CodePathInStoreCantBeRelative, Message: "path can't be relative"}
	ErrPathNotStartWithRoot           = &AFSError{Code: CodePathNotStartWithRoot, Message: "path must start with root"}
	ErrPathInvalid                    = &AFSError{Code: CodePathInvalid, Message: "invalid path"}
	ErrPathBusy                       = &AFSError{Code: CodePathBusy, Message: "path busy"}
	ErrPathCantBeReadAfterWritten     = &AFSError{Code: CodePathCantBeReadAfterWritten, Message: "path can't be read after written"}
	ErrPathCantBeOperatedAfterDeleted = &AFSError{Code: CodePathCantBeOperatedAfterDeleted, Message: "path operated after deleted"}
	ErrPathCantBeOperatedAfterMoved   = &AFSError{Code: CodePathCantBeOperatedAfterMoved, Message: "path operated after moved"}
	ErrPathCantBeOperatedAfterCopied  = &AFSError{Code: CodePathCantBeOperatedAfterCopied, Message: "path operated after copied"}
	ErrTransactionReuse               = &AFSError{Code: CodeTransactionReuse, Message: "transaction reuse"}
	ErrOperationNotAddedDueToState    = &AFSError{Code: CodeOperationNotAddedDueToState, Message: "operation not added due to state"}
	ErrOperationCantBeRecovered       = &AFSError{Code: CodeOperationCantBeRecovered, Message: "operation can't be recovered"}
	ErrFileSystemNotSupported         = &AFSError{Code: CodeFileSystemNotSupported, Message: "file system not supported"}
	ErrPathsOnDifferentVolumes        = &AFSError{Code: CodePathsOnDifferentVolumes, Message: "paths on different volumes"}
	ErrPathNotInStore                 = &AFSError{Code: CodePathNotInStore, Message: "path not in store"}
	ErrPathInStore                    = &AFSError{Code: CodePathInStore, Message: "path in store"}
	ErrPathIsDirectory                = &AFSError{Code: CodePathIsDirectory, Message: "path is directory"}
	ErrPathNotRegularFile             = &AFSError{Code: CodePathNotRegularFile, Message: "path not regular file"}
	ErrPathNotDirectory               = &AFSError{Code: CodePathNotDirectory, Message: "path not directory"}
	ErrUnsupportedLogVersion          = &AFSError{Code: CodeUnsupportedLogVersion, Message: "unsupported log version"}
	ErrIOFailure                      = &AFSError{Code: CodeIOFailure, Message: "storage failure"}
	ErrInvalidArgument                = &AFSError{Code: CodeInvalidArgument, Message: "invalid argument"}
)
