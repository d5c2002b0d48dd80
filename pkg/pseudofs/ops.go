package pseudofs

import (
	"github.com/marmos91/dittofs-exports/pkg/access"
	"github.com/marmos91/dittofs-exports/pkg/auth"
	"github.com/marmos91/dittofs-exports/pkg/handle"
	"github.com/marmos91/dittofs-exports/pkg/store"
)

// SetAttr updates attributes of h. Changing the size needs write access
// and changing ownership needs WriteOwner, which only root holds.
func (f *FS) SetAttr(actx *auth.Context, h handle.Handle, attrs *store.SetAttrs) error {
	mask := access.WriteAttributes
	if attrs.Size != nil {
		mask |= access.WriteData
	}
	if attrs.UID != nil || attrs.GID != nil {
		mask |= access.WriteOwner
	}
	h, _, _, _, err := f.check(actx, h, mask)
	if err != nil {
		return err
	}
	return f.store.SetAttr(actx.Ctx(), h.Key, attrs)
}

func (f *FS) Read(actx *auth.Context, h handle.Handle, off int64, p []byte) (int, bool, error) {
	h, _, n, _, err := f.check(actx, h, access.ReadData)
	if err != nil {
		return 0, false, err
	}
	if n != nil {
		return 0, false, store.NewError(store.ErrIsDirectory, n.name, "cannot read a directory")
	}
	return f.store.Read(actx.Ctx(), h.Key, off, p)
}

func (f *FS) Write(actx *auth.Context, h handle.Handle, off int64, data []byte) (int, error) {
	h, _, _, _, err := f.check(actx, h, access.WriteData)
	if err != nil {
		return 0, err
	}
	return f.store.Write(actx.Ctx(), h.Key, off, data)
}

func (f *FS) Commit(actx *auth.Context, h handle.Handle, off int64, count uint32) error {
	h, _, _, _, err := f.check(actx, h, access.WriteData)
	if err != nil {
		return err
	}
	return f.store.Commit(actx.Ctx(), h.Key, off, count)
}

func (f *FS) Readlink(actx *auth.Context, h handle.Handle) (string, error) {
	h, _, n, _, err := f.check(actx, h, access.ReadData)
	if err != nil {
		return "", err
	}
	if n != nil {
		return "", store.NewError(store.ErrInvalidArgument, n.name, "not a symlink")
	}
	return f.store.Readlink(actx.Ctx(), h.Key)
}

// creation checks access on dir and stamps the new object with the
// effective identity of the caller.
func (f *FS) creation(actx *auth.Context, dir handle.Handle, name string, mask access.Mask, attr *store.CreateAttr) (handle.Handle, error) {
	if err := store.ValidateNewName(name); err != nil {
		return handle.Handle{}, err
	}
	dir, _, _, p, err := f.check(actx, dir, mask)
	if err != nil {
		return handle.Handle{}, err
	}
	attr.UID = p.Identity.UID
	attr.GID = p.Identity.GID
	return dir, nil
}

// Create creates a regular file owned by the caller's effective identity.
func (f *FS) Create(actx *auth.Context, dir handle.Handle, name string, mode uint32) (handle.Handle, error) {
	attr := store.CreateAttr{Mode: mode}
	dir, err := f.creation(actx, dir, name, access.AddFile, &attr)
	if err != nil {
		return handle.Handle{}, err
	}
	key, err := f.store.Create(actx.Ctx(), dir.Key, name, attr)
	if err != nil {
		return handle.Handle{}, err
	}
	return f.codec.NewReal(key, dir.ExportIndex), nil
}

// Mkdir creates a directory owned by the caller's effective identity.
func (f *FS) Mkdir(actx *auth.Context, dir handle.Handle, name string, mode uint32) (handle.Handle, error) {
	attr := store.CreateAttr{Mode: mode}
	dir, err := f.creation(actx, dir, name, access.AddSubdirectory, &attr)
	if err != nil {
		return handle.Handle{}, err
	}
	key, err := f.store.Mkdir(actx.Ctx(), dir.Key, name, attr)
	if err != nil {
		return handle.Handle{}, err
	}
	return f.codec.NewReal(key, dir.ExportIndex), nil
}

func (f *FS) Symlink(actx *auth.Context, dir handle.Handle, name, target string) (handle.Handle, error) {
	var attr store.CreateAttr
	dir, err := f.creation(actx, dir, name, access.AddFile, &attr)
	if err != nil {
		return handle.Handle{}, err
	}
	key, err := f.store.Symlink(actx.Ctx(), dir.Key, name, target, attr)
	if err != nil {
		return handle.Handle{}, err
	}
	return f.codec.NewReal(key, dir.ExportIndex), nil
}

// Link adds name in dir for target. Both must be reached through the same
// export.
func (f *FS) Link(actx *auth.Context, target, dir handle.Handle, name string) error {
	if err := store.ValidateNewName(name); err != nil {
		return err
	}
	target, _, _, err := f.resolve(actx, target)
	if err != nil {
		return err
	}
	dir, _, _, err = f.resolve(actx, dir)
	if err != nil {
		return err
	}
	if _, err := f.access.Check(actx, dir, access.AddFile); err != nil {
		return err
	}
	if err := sameExport(target, dir); err != nil {
		return err
	}
	return f.store.Link(actx.Ctx(), dir.Key, name, target.Key)
}

func (f *FS) Remove(actx *auth.Context, dir handle.Handle, name string) error {
	if err := store.ValidateNewName(name); err != nil {
		return err
	}
	dir, _, _, _, err := f.check(actx, dir, access.DeleteChild)
	if err != nil {
		return err
	}
	return f.store.Remove(actx.Ctx(), dir.Key, name)
}

// Rename moves fromName in fromDir to toName in toDir within one export.
func (f *FS) Rename(actx *auth.Context, fromDir handle.Handle, fromName string, toDir handle.Handle, toName string) (bool, error) {
	if err := store.ValidateNewName(fromName); err != nil {
		return false, err
	}
	if err := store.ValidateNewName(toName); err != nil {
		return false, err
	}
	fromDir, _, _, err := f.resolve(actx, fromDir)
	if err != nil {
		return false, err
	}
	toDir, _, _, err = f.resolve(actx, toDir)
	if err != nil {
		return false, err
	}
	if _, err := f.access.Check(actx, fromDir, access.DeleteChild); err != nil {
		return false, err
	}
	if _, err := f.access.Check(actx, toDir, access.AddFile); err != nil {
		return false, err
	}
	if err := sameExport(fromDir, toDir); err != nil {
		return false, err
	}
	return f.store.Rename(actx.Ctx(), fromDir.Key, fromName, toDir.Key, toName)
}

func (f *FS) GetACL(actx *auth.Context, h handle.Handle) ([]store.ACE, error) {
	h, _, n, _, err := f.check(actx, h, access.ReadACL)
	if err != nil {
		return nil, err
	}
	if n != nil {
		return nil, nil
	}
	return f.store.GetACL(actx.Ctx(), h.Key)
}

func (f *FS) SetACL(actx *auth.Context, h handle.Handle, acl []store.ACE) error {
	h, _, _, _, err := f.check(actx, h, access.WriteACL)
	if err != nil {
		return err
	}
	return f.store.SetACL(actx.Ctx(), h.Key, acl)
}

// sameExport rejects operations spanning two exports. Pseudo directories
// belong to no export.
func sameExport(a, b handle.Handle) error {
	if a.IsPseudo() || b.IsPseudo() {
		return store.NewError(store.ErrCrossDevice, "", "operation involves the pseudo filesystem")
	}
	if a.ExportIndex != b.ExportIndex {
		return store.NewError(store.ErrCrossDevice, "", "export %d and export %d differ", a.ExportIndex, b.ExportIndex)
	}
	return nil
}
