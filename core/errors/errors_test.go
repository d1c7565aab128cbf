package errors

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"testing"
)

func TestCategory_String(t *testing.T) {
	tests := []struct {
		category Category
		want     string
	}{
		{CategoryPath, "path"},
		{CategoryConflict, "conflict"},
		{CategoryLifecycle, "lifecycle"},
		{CategoryEnvironment, "environment"},
		{CategoryStorage, "storage"},
		{Category(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.category.String(); got != tt.want {
			t.Errorf("Category(%d).String() = %q, want %q", tt.category, got, tt.want)
		}
	}
}

func TestCode_Category(t *testing.T) {
	tests := []struct {
		code Code
		want Category
	}{
		{CodePathInStoreCantBeRelative, CategoryPath},
		{CodePathNotStartWithRoot, CategoryPath},
		{CodePathInvalid, CategoryPath},
		{CodePathBusy, CategoryConflict},
		{CodePathCantBeReadAfterWritten, CategoryConflict},
		{CodePathCantBeOperatedAfterDeleted, CategoryConflict},
		{CodeTransactionReuse, CategoryLifecycle},
		{CodeOperationNotAddedDueToState, CategoryLifecycle},
		{CodeOperationCantBeRecovered, CategoryLifecycle},
		{CodeFileSystemNotSupported, CategoryEnvironment},
		{CodePathsOnDifferentVolumes, CategoryEnvironment},
		{CodeIOFailure, CategoryStorage},
	}

	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			if got := tt.code.Category(); got != tt.want {
				t.Errorf("%s.Category() = %s, want %s", tt.code, got, tt.want)
			}
		})
	}
}

func TestNew_FormatsMessage(t *testing.T) {
	err := New(CodePathBusy, "Delete", "/data/f1")

	if !strings.Contains(err.Error(), "PathBusy") {
		t.Errorf("Error() = %q, want code name", err.Error())
	}
	if !strings.Contains(err.Error(), "/data/f1") {
		t.Errorf("Error() = %q, want path", err.Error())
	}
}

func TestErrorsIs_MatchesByCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(CodePathCantBeOperatedAfterDeleted, "Create", "/a"))

	if !errors.Is(err, ErrPathCantBeOperatedAfterDeleted) {
		t.Error("expected errors.Is to match sentinel with the same code")
	}
	if errors.Is(err, ErrPathBusy) {
		t.Error("expected errors.Is not to match sentinel with another code")
	}
}

func TestWrap_KeepsUnderlying(t *testing.T) {
	err := Wrap(CodeIOFailure, fs.ErrNotExist, "Read", "/a")

	if !errors.Is(err, fs.ErrNotExist) {
		t.Error("expected wrapped error to unwrap to fs.ErrNotExist")
	}
	if !errors.Is(err, ErrIOFailure) {
		t.Error("expected wrapped error to match ErrIOFailure")
	}
}

func TestWrap_NilIsNil(t *testing.T) {
	if err := Wrap(CodeIOFailure, nil); err != nil {
		t.Errorf("Wrap(nil) = %v, want nil", err)
	}
}

func TestWrap_DoesNotRewrapAFSError(t *testing.T) {
	inner := New(CodePathNotInStore, "Read", "/a")
	err := Wrap(CodeIOFailure, inner, "Read", "/a")

	if GetCode(err) != CodePathNotInStore {
		t.Errorf("GetCode() = %s, want PathNotInStore", GetCode(err))
	}
}

func TestGetCategory_PlainErrorIsStorage(t *testing.T) {
	if got := GetCategory(errors.New("disk full")); got != CategoryStorage {
		t.Errorf("GetCategory() = %s, want storage", got)
	}
	if got := GetCategory(nil); got != CategoryUnknown {
		t.Errorf("GetCategory(nil) = %s, want unknown", got)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"busy", New(CodePathBusy, "Write", "/a"), true},
		{"storage", errors.New("input/output error"), true},
		{"wrapped storage", Wrap(CodeIOFailure, errors.New("eio"), "Write", "/a"), true},
		{"path", New(CodePathInvalid, "Write", "/a"), false},
		{"lifecycle", New(CodeTransactionReuse, "x", "Begin"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}
