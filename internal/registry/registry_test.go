package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenGetShutdown(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	reg := New(dir, nil, nil)

	_, err := reg.Get(KindDevices)
	assert.ErrorIs(t, err, ErrUnknownKind)

	d, err := reg.Open(ctx, KindDevices)
	require.NoError(t, err)
	require.NotNil(t, d)

	// The database file lands under the registry's base directory.
	_, err = os.Stat(filepath.Join(dir, "devices.db"))
	require.NoError(t, err)

	got, err := reg.Get(KindDevices)
	require.NoError(t, err)
	assert.Same(t, d, got)

	// Opening again returns the existing handle.
	again, err := reg.Open(ctx, KindDevices)
	require.NoError(t, err)
	assert.Same(t, d, again)

	assert.Equal(t, []Kind{KindDevices}, reg.Kinds())

	require.NoError(t, reg.Shutdown())
	_, err = reg.Get(KindDevices)
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestRegistriesAreIndependent(t *testing.T) {
	ctx := context.Background()

	regA := New(t.TempDir(), nil, nil)
	regB := New(t.TempDir(), nil, nil)
	defer regA.Shutdown()
	defer regB.Shutdown()

	da, err := regA.Open(ctx, KindDevices)
	require.NoError(t, err)
	db, err := regB.Open(ctx, KindDevices)
	require.NoError(t, err)

	assert.NotSame(t, da, db)
	assert.NotEqual(t, regA.Path(KindDevices), regB.Path(KindDevices))

	// Shutting one registry down leaves the other usable.
	require.NoError(t, regA.Shutdown())
	require.NoError(t, db.Manager().HealthCheck(ctx))
}

func TestShutdownIdempotent(t *testing.T) {
	ctx := context.Background()
	reg := New(t.TempDir(), nil, nil)

	_, err := reg.Open(ctx, KindDevices)
	require.NoError(t, err)

	require.NoError(t, reg.Shutdown())
	require.NoError(t, reg.Shutdown())
}
