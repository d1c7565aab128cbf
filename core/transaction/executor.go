package transaction

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	coreerrors "github.com/adalundhe/afs/core/errors"
	"github.com/adalundhe/afs/core/fsio"
	"github.com/adalundhe/afs/core/lock"
	"github.com/adalundhe/afs/core/sidecar"
	"github.com/google/uuid"
)

// ModifyingOperation is journaled and changes the storage root. Prepare
// stages the change without touching the storage root; commit applies it and
// must be safe to repeat after a crash.
type ModifyingOperation interface {
	Operation
	prepare(env *environment) error
	commit(env *environment) error
}

type environment struct {
	transaction *Transaction
	storageRoot string
	sidecars    *sidecar.Store
}

func (e *environment) realPath(path string) string {
	return fsio.RealPath(e.storageRoot, path)
}

func (e *environment) tempPath(rel string) string {
	return filepath.Join(e.transaction.Dir(), rel)
}

func ioFailure(kind Kind, path string, err error) error {
	return coreerrors.Wrap(coreerrors.CodeIOFailure, err, string(kind), path)
}

func (o *WriteOperation) prepare(env *environment) error {
	if fsio.IsDirectory(env.realPath(o.Source)) {
		return coreerrors.New(coreerrors.CodePathIsDirectory, string(KindWrite), o.Source)
	}

	o.TempSource = filepath.FromSlash(strings.TrimPrefix(o.Source, fsio.Root)) + "." + uuid.NewString()
	temp := env.tempPath(o.TempSource)
	if err := fsio.CreateDirectories(filepath.Dir(temp)); err != nil {
		return ioFailure(KindWrite, o.Source, err)
	}
	if err := fsio.WriteFileAtomic(temp, o.Data); err != nil {
		return ioFailure(KindWrite, o.Source, err)
	}
	return nil
}

// commit merges the staged payload into the target. A missing payload means
// an earlier run already applied it.
func (o *WriteOperation) commit(env *environment) error {
	temp := env.tempPath(o.TempSource)
	info, err := os.Stat(temp)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return ioFailure(KindWrite, o.Source, err)
	}

	target := env.realPath(o.Source)
	if err := fsio.CreateDirectories(filepath.Dir(target)); err != nil {
		return ioFailure(KindWrite, o.Source, err)
	}
	if err := fsio.CopyFile(temp, 0, info.Size(), target, o.Offset); err != nil {
		return ioFailure(KindWrite, o.Source, err)
	}
	if err := env.sidecars.Clear(target); err != nil {
		return ioFailure(KindWrite, o.Source, err)
	}
	if err := os.Remove(temp); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return ioFailure(KindWrite, o.Source, err)
	}
	return nil
}

func (o *CreateOperation) prepare(env *environment) error {
	if fsio.Exists(env.realPath(o.Source)) {
		return coreerrors.New(coreerrors.CodePathInStore, string(KindCreate), o.Source)
	}
	return nil
}

func (o *CreateOperation) commit(env *environment) error {
	target := env.realPath(o.Source)
	if o.Directory && fsio.IsDirectory(target) || !o.Directory && fsio.IsRegularFile(target) {
		return nil
	}
	if err := fsio.CreateDirectories(filepath.Dir(target)); err != nil {
		return ioFailure(KindCreate, o.Source, err)
	}
	if o.Directory {
		return ioFailure(KindCreate, o.Source, fsio.CreateDirectory(target))
	}
	return ioFailure(KindCreate, o.Source, fsio.CreateFile(target))
}

func (o *DeleteOperation) prepare(env *environment) error {
	if !fsio.Exists(env.realPath(o.Source)) {
		return coreerrors.New(coreerrors.CodePathNotInStore, string(KindDelete), o.Source)
	}
	return nil
}

func (o *DeleteOperation) commit(env *environment) error {
	target := env.realPath(o.Source)
	if err := env.sidecars.Clear(target); err != nil {
		return ioFailure(KindDelete, o.Source, err)
	}
	if !fsio.Exists(target) {
		return nil
	}
	return ioFailure(KindDelete, o.Source, fsio.Delete(target))
}

// prepareTransfer checks the preconditions shared by copy and move.
func prepareTransfer(env *environment, kind Kind, source, target string) error {
	if !fsio.Exists(env.realPath(source)) {
		return coreerrors.New(coreerrors.CodePathNotInStore, string(kind), source)
	}
	if fsio.Exists(env.realPath(target)) {
		return coreerrors.New(coreerrors.CodePathInStore, string(kind), target)
	}
	if lock.IsDescendant(target, source) {
		return coreerrors.New(coreerrors.CodePathInvalid, string(kind), target)
	}
	return nil
}

// transferDone reports whether an earlier run already completed a copy or
// move: the source is gone and the target is in place.
func transferDone(source, target string) bool {
	return !fsio.Exists(source) && fsio.Exists(target)
}

func (o *CopyOperation) prepare(env *environment) error {
	return prepareTransfer(env, KindCopy, o.Source, o.Target)
}

func (o *CopyOperation) commit(env *environment) error {
	source, target := env.realPath(o.Source), env.realPath(o.Target)
	if transferDone(source, target) {
		return nil
	}
	return ioFailure(KindCopy, o.Source, fsio.Copy(source, target))
}

func (o *MoveOperation) prepare(env *environment) error {
	return prepareTransfer(env, KindMove, o.Source, o.Target)
}

func (o *MoveOperation) commit(env *environment) error {
	source, target := env.realPath(o.Source), env.realPath(o.Target)
	if !transferDone(source, target) {
		if err := fsio.Move(source, target); err != nil {
			return ioFailure(KindMove, o.Source, err)
		}
	}
	return ioFailure(KindMove, o.Source, env.sidecars.Move(source, target))
}
