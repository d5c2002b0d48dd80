package access

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittofs-exports/internal/logger"
	"github.com/marmos91/dittofs-exports/pkg/auth"
	"github.com/marmos91/dittofs-exports/pkg/export"
	"github.com/marmos91/dittofs-exports/pkg/handle"
	"github.com/marmos91/dittofs-exports/pkg/store"
	"github.com/marmos91/dittofs-exports/pkg/store/memory"
)

type fixture struct {
	store    *memory.Store
	registry *export.Registry
	ctrl     *Controller
	codec    *handle.Codec
}

func newFixture(t *testing.T, exports string, opts ...Option) *fixture {
	t.Helper()
	s := memory.New(memory.Config{})
	r := export.NewRegistry()
	_, errs := r.LoadString(exports, "exports")
	require.Empty(t, errs)
	return &fixture{
		store:    s,
		registry: r,
		ctrl:     NewController(r, s, opts...),
		codec:    handle.NewCodec(1),
	}
}

// file creates path/name owned by uid:gid with mode and returns its handle
// tagged with the export index of exportPath.
func (f *fixture) file(t *testing.T, exportPath, name string, mode, uid, gid uint32) handle.Handle {
	t.Helper()
	ctx := context.Background()
	dir, err := f.store.MkdirAll(ctx, exportPath, store.CreateAttr{Mode: 0o777})
	require.NoError(t, err)
	key, err := f.store.Create(ctx, dir, name, store.CreateAttr{Mode: mode, UID: uid, GID: gid})
	require.NoError(t, err)
	return f.codec.NewReal(key, export.Index(exportPath))
}

func caller(t *testing.T, client string, flavor auth.Flavor, uid, gid uint32) *auth.Context {
	t.Helper()
	addr, err := auth.ParseClientAddress(client)
	require.NoError(t, err)
	return &auth.Context{
		Context:  context.Background(),
		Flavor:   flavor,
		Identity: auth.Identity{UID: uid, GID: gid},
		Client:   addr,
	}
}

func reason(t *testing.T, err error) string {
	t.Helper()
	var denied *DeniedError
	require.True(t, errors.As(err, &denied), "expected a denial, got %v", err)
	return denied.Reason
}

func TestEndToEndExportScenario(t *testing.T) {
	f := newFixture(t, "/export *(ro) 192.168.1.0/24(rw,root_squash)\n")
	h := f.file(t, "/export", "file", 0o666, 1000, 1000)

	// rw wins by specificity for the subnet
	p, err := f.ctrl.Check(caller(t, "192.168.1.10", auth.FlavorSys, 1000, 1000), h, WriteData)
	require.NoError(t, err)
	assert.False(t, p.Squashed())
	assert.Equal(t, "192.168.1.0/24", p.Export.Client.Raw)

	// root is squashed but may still write a world-writable file
	p, err = f.ctrl.Check(caller(t, "192.168.1.10", auth.FlavorSys, 0, 0), h, WriteData)
	require.NoError(t, err)
	assert.Equal(t, "root", p.Squash)
	assert.Equal(t, uint32(65534), p.Identity.UID)
	assert.Equal(t, uint32(65534), p.Identity.GID)
	assert.Nil(t, p.Identity.GIDs)

	// everybody else only sees the read-only clause
	_, err = f.ctrl.Check(caller(t, "203.0.113.1", auth.FlavorSys, 1000, 1000), h, WriteData)
	require.Error(t, err)
	assert.Equal(t, ReasonReadOnly, reason(t, err))
	assert.True(t, errors.Is(err, store.ErrPermissionDenied))

	_, err = f.ctrl.Check(caller(t, "203.0.113.1", auth.FlavorSys, 1000, 1000), h, ReadData)
	assert.NoError(t, err)
}

func TestRootSquashLimitsPermissions(t *testing.T) {
	f := newFixture(t, "/export 10.0.0.0/8(rw,root_squash,anonuid=65534) \n/trusted 10.0.0.0/8(rw,no_root_squash)\n")
	private := f.file(t, "/export", "private", 0o600, 1000, 1000)

	_, err := f.ctrl.Check(caller(t, "10.0.0.1", auth.FlavorSys, 0, 0), private, ReadData)
	require.Error(t, err)
	assert.Equal(t, ReasonUnix, reason(t, err))

	// the same physical object through an export that trusts root
	trusted := private.WithExport(export.Index("/trusted"))
	p, err := f.ctrl.Check(caller(t, "10.0.0.1", auth.FlavorSys, 0, 0), trusted, ReadData|WriteData|WriteOwner)
	require.NoError(t, err)
	assert.False(t, p.Squashed())
	assert.True(t, p.Identity.IsRoot())
}

func TestAllSquashAndAnonymous(t *testing.T) {
	f := newFixture(t, "/export *(rw,all_squash,anonuid=2000,anongid=3000,sec=none)\n")
	h := f.file(t, "/export", "f", 0o640, 2000, 3000)

	p, err := f.ctrl.Check(caller(t, "10.0.0.1", auth.FlavorSys, 1000, 1000), h, ReadData|WriteData)
	require.NoError(t, err)
	assert.Equal(t, "all", p.Squash)
	assert.Equal(t, uint32(2000), p.Identity.UID)
	assert.Equal(t, uint32(3000), p.Identity.GID)

	p, err = f.ctrl.Check(caller(t, "10.0.0.1", auth.FlavorNone, 0, 0), h, ReadData)
	require.NoError(t, err)
	assert.Equal(t, "anonymous", p.Squash)
}

func TestPseudoHandlesAreReadOnly(t *testing.T) {
	f := newFixture(t, "/export *(rw)\n")
	h := f.codec.NewPseudo(store.Key("pseudo"))

	_, err := f.ctrl.Check(caller(t, "10.0.0.1", auth.FlavorSys, 0, 0), h, AddFile)
	assert.Equal(t, ReasonPseudoReadOnly, reason(t, err))

	p, err := f.ctrl.Check(caller(t, "10.0.0.1", auth.FlavorSys, 1000, 1000), h, ListDirectory|Execute|ReadAttributes)
	require.NoError(t, err)
	assert.Nil(t, p.Export)
}

func TestUnknownExportIndex(t *testing.T) {
	f := newFixture(t, "/export 10.0.0.0/8(rw)\n")
	h := f.file(t, "/export", "f", 0o644, 0, 0)

	_, err := f.ctrl.Check(caller(t, "192.168.0.1", auth.FlavorSys, 0, 0), h, ReadAttributes)
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrNoSuchExport))
	assert.True(t, errors.Is(err, store.ErrPermissionDenied))

	// legacy handles carry no export index
	legacy := h.WithExport(0)
	_, err = f.ctrl.Check(caller(t, "10.0.0.1", auth.FlavorSys, 0, 0), legacy, ReadAttributes)
	assert.Equal(t, ReasonNoExport, reason(t, err))
}

func TestPrivilegedPort(t *testing.T) {
	f := newFixture(t, "/export *(rw,secure)\n")
	h := f.file(t, "/export", "f", 0o644, 0, 0)

	_, err := f.ctrl.Check(caller(t, "10.0.0.1:40000", auth.FlavorSys, 0, 0), h, ReadAttributes)
	assert.Equal(t, ReasonInsecurePort, reason(t, err))

	_, err = f.ctrl.Check(caller(t, "10.0.0.1:812", auth.FlavorSys, 0, 0), h, ReadAttributes)
	assert.NoError(t, err)
}

func TestMinimumFlavor(t *testing.T) {
	f := newFixture(t, "/export *(rw,sec=krb5i)\n")
	h := f.file(t, "/export", "f", 0o644, 0, 0)

	for _, flavor := range []auth.Flavor{auth.FlavorNone, auth.FlavorSys, auth.FlavorKrb5} {
		_, err := f.ctrl.Check(caller(t, "10.0.0.1", flavor, 0, 0), h, ReadAttributes)
		assert.Equal(t, ReasonWeakFlavor, reason(t, err), flavor.String())
	}
	for _, flavor := range []auth.Flavor{auth.FlavorKrb5i, auth.FlavorKrb5p} {
		_, err := f.ctrl.Check(caller(t, "10.0.0.1", flavor, 0, 0), h, ReadAttributes)
		assert.NoError(t, err, flavor.String())
	}
}

func TestAllRootSkipsPermissionsButNotReadOnly(t *testing.T) {
	f := newFixture(t, "/rw *(rw,all_root)\n/ro *(ro,all_root)\n")
	rw := f.file(t, "/rw", "f", 0o000, 0, 0)
	ro := f.file(t, "/ro", "f", 0o777, 0, 0)

	p, err := f.ctrl.Check(caller(t, "10.0.0.1", auth.FlavorSys, 1000, 1000), rw, ReadData|WriteData)
	require.NoError(t, err)
	assert.Equal(t, uint32(1000), p.Identity.UID)

	_, err = f.ctrl.Check(caller(t, "10.0.0.1", auth.FlavorSys, 0, 0), ro, WriteData)
	assert.Equal(t, ReasonReadOnly, reason(t, err))
}

func TestReadAttributesSkipsUnixCheck(t *testing.T) {
	f := newFixture(t, "/export *(rw)\n")
	h := f.file(t, "/export", "f", 0o000, 0, 0)

	_, err := f.ctrl.Check(caller(t, "10.0.0.1", auth.FlavorSys, 1000, 1000), h, ReadAttributes)
	assert.NoError(t, err)

	_, err = f.ctrl.Check(caller(t, "10.0.0.1", auth.FlavorSys, 1000, 1000), h, ReadAttributes|ReadData)
	assert.Equal(t, ReasonUnix, reason(t, err))
}

func TestACLChecker(t *testing.T) {
	s := memory.New(memory.Config{})
	r := export.NewRegistry()
	r.LoadString("/acl *(rw,acl)\n/plain *(rw)\n", "exports")
	ctrl := NewController(r, s, WithACLChecker(NewStoreACLChecker(s)))
	codec := handle.NewCodec(0)
	ctx := context.Background()

	dir, err := s.MkdirAll(ctx, "/acl", store.CreateAttr{Mode: 0o755})
	require.NoError(t, err)
	key, err := s.Create(ctx, dir, "f", store.CreateAttr{Mode: 0o600, UID: 1, GID: 1})
	require.NoError(t, err)
	require.NoError(t, s.SetACL(ctx, key, []store.ACE{
		{Type: store.ACEDeny, Mask: uint32(WriteData), Who: "uid:1000"},
		{Type: store.ACEAllow, Mask: uint32(ReadData | WriteData), Who: "gid:50"},
	}))

	h := codec.NewReal(key, export.Index("/acl"))
	member := caller(t, "10.0.0.1", auth.FlavorSys, 2000, 50)
	_, err = ctrl.Check(member, h, ReadData|WriteData)
	assert.NoError(t, err, "ACL allow overrides mode 0600")

	blocked := caller(t, "10.0.0.1", auth.FlavorSys, 1000, 50)
	_, err = ctrl.Check(blocked, h, WriteData)
	assert.Equal(t, ReasonACL, reason(t, err))

	// undefined falls through to mode bits
	other := caller(t, "10.0.0.1", auth.FlavorSys, 3000, 3000)
	_, err = ctrl.Check(other, h, ReadData)
	assert.Equal(t, ReasonUnix, reason(t, err))

	// ACLs are ignored on exports without acl
	plain := h.WithExport(export.Index("/plain"))
	_, err = ctrl.Check(member, plain, ReadData)
	assert.Equal(t, ReasonUnix, reason(t, err))
}

func TestGranted(t *testing.T) {
	f := newFixture(t, "/export *(rw)\n/ro *(ro)\n")
	h := f.file(t, "/export", "f", 0o644, 1000, 1000)

	owner := caller(t, "10.0.0.1", auth.FlavorSys, 1000, 1000)
	got, err := f.ctrl.Granted(owner, h, ReadData|WriteData|Execute|WriteOwner)
	require.NoError(t, err)
	assert.Equal(t, ReadData|WriteData, got)

	ro := h.WithExport(export.Index("/ro"))
	got, err = f.ctrl.Granted(owner, ro, ReadData|WriteData|ReadAttributes)
	require.NoError(t, err)
	assert.Equal(t, ReadData|ReadAttributes, got)

	_, err = f.ctrl.Granted(owner, h.WithExport(12345), ReadData)
	assert.True(t, errors.Is(err, store.ErrNoSuchExport))
}

func TestCheckQuietMatchesCheck(t *testing.T) {
	f := newFixture(t, "/export *(ro)\n", WithDenialLogging(false))
	h := f.file(t, "/export", "f", 0o644, 0, 0)
	c := caller(t, "10.0.0.1", auth.FlavorSys, 0, 0)

	_, err1 := f.ctrl.Check(c, h, WriteData)
	_, err2 := f.ctrl.CheckQuiet(c, h, WriteData)
	assert.Equal(t, err1, err2)
}

func TestStaleBackendKey(t *testing.T) {
	f := newFixture(t, "/export *(rw)\n")
	h := f.codec.NewReal(store.Key{0xde, 0xad}, export.Index("/export"))

	_, err := f.ctrl.Check(caller(t, "10.0.0.1", auth.FlavorSys, 0, 0), h, ReadData)
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrStaleHandle))
}

func TestDenialLogRate(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() { logger.SetOutput(os.Stdout) })

	f := newFixture(t, "/export *(ro)\n", WithDenialLogRate(0.0001, 2))
	h := f.file(t, "/export", "f", 0o644, 0, 0)
	c := caller(t, "10.0.0.1", auth.FlavorSys, 0, 0)

	for i := 0; i < 5; i++ {
		_, err := f.ctrl.Check(c, h, WriteData)
		require.Error(t, err)
	}

	assert.Equal(t, 2, strings.Count(buf.String(), "Access denied: read_only"))
	assert.Equal(t, uint64(3), f.ctrl.logLimit.Dropped())
}
