package transaction

import (
	"errors"
	"io"
	"io/fs"
	"os"

	coreerrors "github.com/adalundhe/afs/core/errors"
	"github.com/adalundhe/afs/core/fsio"
	"github.com/adalundhe/afs/core/sidecar"
)

// statSource resolves a store path and maps a missing entry to PathNotInStore.
func statSource(env *environment, kind Kind, source string) (string, fs.FileInfo, error) {
	full := env.realPath(source)
	info, err := os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil, coreerrors.New(coreerrors.CodePathNotInStore, string(kind), source)
	}
	if err != nil {
		return "", nil, ioFailure(kind, source, err)
	}
	return full, info, nil
}

func regularSource(env *environment, kind Kind, source string) (string, error) {
	full, info, err := statSource(env, kind, source)
	if err != nil {
		return "", err
	}
	if !info.Mode().IsRegular() {
		return "", coreerrors.New(coreerrors.CodePathNotRegularFile, string(kind), source)
	}
	return full, nil
}

// fileEntry returns the entry of source unless it is a directory.
func fileEntry(env *environment, kind Kind, source string) (File, bool, error) {
	e, err := fsio.GetFile(env.realPath(source))
	if errors.Is(err, fs.ErrNotExist) {
		return File{}, false, coreerrors.New(coreerrors.CodePathNotInStore, string(kind), source)
	}
	if err != nil {
		return File{}, false, ioFailure(kind, source, err)
	}
	if e.Directory {
		return File{}, false, nil
	}
	return toFile(source, e), true, nil
}

func listFiles(env *environment, op *ListOperation) ([]File, error) {
	full, info, err := statSource(env, KindList, op.Source)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, coreerrors.New(coreerrors.CodePathNotDirectory, string(KindList), op.Source)
	}

	entries, err := fsio.List(full, op.Recursive, sidecar.DirName)
	if err != nil {
		return nil, ioFailure(KindList, op.Source, err)
	}

	files := make([]File, 0, len(entries))
	for _, e := range entries {
		path, ok := fsio.StorePath(env.storageRoot, e.Path)
		if !ok {
			continue
		}
		files = append(files, toFile(path, e))
	}
	return files, nil
}

func toFile(path string, e fsio.Entry) File {
	return File{
		Path:         path,
		Name:         e.Name,
		Directory:    e.Directory,
		Size:         e.Size,
		LastModified: e.LastModified,
	}
}

func readBytes(env *environment, op *ReadOperation) ([]byte, error) {
	full, info, err := statSource(env, KindRead, op.Source)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, coreerrors.New(coreerrors.CodePathIsDirectory, string(KindRead), op.Source)
	}

	data, err := fsio.Read(full, op.Offset, op.Limit)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, coreerrors.Wrap(coreerrors.CodeInvalidArgument, err, string(KindRead), op.Source, "range beyond end of file")
	}
	if err != nil {
		return nil, ioFailure(KindRead, op.Source, err)
	}
	return data, nil
}

func freeSpace(env *environment, op *FreeOperation) (FreeSpace, error) {
	path := op.Source
	for path != fsio.Root && !fsio.Exists(env.realPath(path)) {
		path = fsio.ParentPath(path)
	}

	total, free, err := fsio.Space(env.realPath(path))
	if err != nil {
		return FreeSpace{}, ioFailure(KindFree, op.Source, err)
	}
	return FreeSpace{Total: total, Free: free}, nil
}

func hashFile(env *environment, op *HashOperation) (string, error) {
	full, err := regularSource(env, KindHash, op.Source)
	if err != nil {
		return "", err
	}
	sum, err := env.sidecars.Hash(full)
	if err != nil {
		return "", ioFailure(KindHash, op.Source, err)
	}
	return sum, nil
}

func previewFile(env *environment, op *PreviewOperation) ([]byte, error) {
	full, err := regularSource(env, KindPreview, op.Source)
	if err != nil {
		return nil, err
	}
	data, err := env.sidecars.Preview(full)
	if err != nil {
		return nil, ioFailure(KindPreview, op.Source, err)
	}
	return data, nil
}
