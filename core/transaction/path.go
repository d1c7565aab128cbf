package transaction

import (
	"strings"

	coreerrors "github.com/adalundhe/afs/core/errors"
	"github.com/adalundhe/afs/core/fsio"
)

// ValidatePath checks a store path given to kind and returns its clean form.
// Relative segments are reported first, then a missing root, then invalid
// file names.
func ValidatePath(kind Kind, path string) (string, error) {
	if fsio.IsRelative(path) {
		return "", coreerrors.New(coreerrors.CodePathInStoreCantBeRelative, string(kind), path)
	}
	if !strings.HasPrefix(path, fsio.Root) {
		return "", coreerrors.New(coreerrors.CodePathNotStartWithRoot, string(kind), path)
	}
	if !fsio.IsValidPath(path) {
		return "", coreerrors.New(coreerrors.CodePathInvalid, string(kind), path)
	}
	return fsio.Clean(path), nil
}
