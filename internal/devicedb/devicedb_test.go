package devicedb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/devstore/pkg/types"
)

// newTestDB opens a device database on a fresh file.
func newTestDB(t *testing.T) *DeviceDB {
	t.Helper()

	cfg := types.NewConfig("devices", filepath.Join(t.TempDir(), "devices.db"))
	cfg.HealthCheckInterval = 0

	d, err := Open(context.Background(), cfg, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func testCamera(serial string) types.CameraInfo {
	return types.CameraInfo{
		Name:           "lab-cam-" + serial,
		SerialNumber:   serial,
		Manufacturer:   "Basler",
		Version:        "1.4.2",
		ConnectionType: "gige",
	}
}

func TestOpenCreatesTables(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)

	for _, h := range []types.TableOps{d.Info(), d.Config(), d.Status()} {
		exists, err := h.TableExists(ctx)
		require.NoError(t, err)
		assert.True(t, exists, "table %s must exist after open", h.TableName())
	}
}

func TestAddAndGetCamera(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)

	cam := testCamera("SN-100")
	cfg := &types.CameraConfig{Resolution: "1920x1080", FrameRate: 30}
	require.NoError(t, d.AddCamera(ctx, &cam, cfg))
	require.Greater(t, cam.ID, int64(0))
	assert.Equal(t, cam.ID, cfg.CameraID)

	rec, err := d.GetCamera(ctx, cam.ID)
	require.NoError(t, err)
	assert.Equal(t, "SN-100", rec.Info.SerialNumber)
	require.NotNil(t, rec.Config)
	assert.Equal(t, "1920x1080", rec.Config.Resolution)
	assert.Nil(t, rec.Status, "no heartbeat recorded yet")
}

func TestAddCameraValidation(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)

	cam := types.CameraInfo{Name: "missing-serial"}
	assert.ErrorIs(t, d.AddCamera(ctx, &cam, nil), types.ErrInvalidData)
}

func TestDuplicateSerialRejected(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)

	first := testCamera("SN-DUP")
	require.NoError(t, d.AddCamera(ctx, &first, nil))

	second := testCamera("SN-DUP")
	second.Name = "other-name"
	assert.ErrorIs(t, d.AddCamera(ctx, &second, nil), types.ErrDuplicate)
}

func TestAddCameraWithConfigIsAtomic(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)

	existing := testCamera("SN-TAKEN")
	require.NoError(t, d.AddCamera(ctx, &existing, nil))

	// The duplicate serial fails the info insert; the config write must not
	// survive on its own.
	dup := testCamera("SN-TAKEN")
	cfg := &types.CameraConfig{Resolution: "640x480"}
	require.Error(t, d.AddCamera(ctx, &dup, cfg))

	n, err := d.Config().TotalCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUpdateCamera(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)

	cam := testCamera("SN-200")
	require.NoError(t, d.AddCamera(ctx, &cam, nil))

	cam.Name = "renamed"
	cam.Manufacturer = "FLIR"
	require.NoError(t, d.UpdateCamera(ctx, cam))

	rec, err := d.GetCamera(ctx, cam.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", rec.Info.Name)
	assert.Equal(t, "FLIR", rec.Info.Manufacturer)

	missing := cam
	missing.ID = 99999
	assert.ErrorIs(t, d.UpdateCamera(ctx, missing), types.ErrNotFound)
}

func TestRemoveCameraCascades(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)

	cam := testCamera("SN-300")
	cfg := &types.CameraConfig{Resolution: "1280x720"}
	require.NoError(t, d.AddCamera(ctx, &cam, cfg))
	require.NoError(t, d.Heartbeat(ctx, &types.CameraStatus{CameraID: cam.ID, Online: true}))

	require.NoError(t, d.RemoveCamera(ctx, cam.ID))

	_, err := d.GetCamera(ctx, cam.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)

	configs, err := d.Config().TotalCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, configs, "config rows must cascade on camera delete")

	statuses, err := d.Status().TotalCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, statuses, "status rows must cascade on camera delete")

	assert.ErrorIs(t, d.RemoveCamera(ctx, cam.ID), types.ErrNotFound)
}

func TestGetCameraBySerial(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)

	cam := testCamera("SN-400")
	require.NoError(t, d.AddCamera(ctx, &cam, nil))

	rec, err := d.GetCameraBySerial(ctx, "SN-400")
	require.NoError(t, err)
	assert.Equal(t, cam.ID, rec.Info.ID)

	_, err = d.GetCameraBySerial(ctx, "SN-ABSENT")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestSearchCameras(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)

	for _, serial := range []string{"ACME-1", "ACME-2", "OTHER-1"} {
		cam := testCamera(serial)
		if serial == "OTHER-1" {
			cam.Manufacturer = "Imperx"
		}
		require.NoError(t, d.AddCamera(ctx, &cam, nil))
	}

	hits, err := d.SearchCameras(ctx, "ACME")
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	hits, err = d.SearchCameras(ctx, "Imperx")
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	// LIKE wildcards in the term are matched literally.
	hits, err = d.SearchCameras(ctx, "%")
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestListCamerasPaged(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)

	for i := 0; i < 7; i++ {
		cam := testCamera(string(rune('A'+i)) + "-SN")
		require.NoError(t, d.AddCamera(ctx, &cam, nil))
	}

	page, err := d.ListCameras(ctx, types.PageParams{PageIndex: 2, PageSize: 3, OrderBy: "serial_number", Ascending: true})
	require.NoError(t, err)
	assert.Equal(t, 7, page.TotalCount)
	assert.Equal(t, 3, page.TotalPages)
	require.Len(t, page.Items, 3)
	assert.Equal(t, "D-SN", page.Items[0].SerialNumber)
}

func TestAllCameras(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)

	cams, err := d.AllCameras(ctx)
	require.NoError(t, err)
	assert.Empty(t, cams)

	for _, serial := range []string{"SN-A", "SN-B", "SN-C"} {
		cam := testCamera(serial)
		require.NoError(t, d.AddCamera(ctx, &cam, nil))
	}

	cams, err = d.AllCameras(ctx)
	require.NoError(t, err)
	require.Len(t, cams, 3)
	// Ordered by insertion id.
	assert.Equal(t, "SN-A", cams[0].SerialNumber)
	assert.Equal(t, "SN-C", cams[2].SerialNumber)
}

func TestImportCamerasAtomicity(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)

	t.Run("all records land", func(t *testing.T) {
		batch := []types.CameraInfo{testCamera("B-1"), testCamera("B-2"), testCamera("B-3")}
		require.NoError(t, d.ImportCameras(ctx, batch))

		n, err := d.Info().TotalCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
	})

	t.Run("one bad record rolls back the batch", func(t *testing.T) {
		batch := []types.CameraInfo{
			testCamera("C-1"),
			testCamera("B-1"), // duplicate of an existing serial
			testCamera("C-3"),
		}
		err := d.ImportCameras(ctx, batch)
		assert.ErrorIs(t, err, types.ErrDuplicate)

		n, err := d.Info().TotalCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n, "failed import must leave the table untouched")
	})
}

func TestHeartbeatAndStatistics(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)

	cam := testCamera("SN-500")
	require.NoError(t, d.AddCamera(ctx, &cam, nil))

	st := types.CameraStatus{CameraID: cam.ID, Online: true, CurrentFrameRate: 29.7}
	require.NoError(t, d.Heartbeat(ctx, &st))
	assert.False(t, st.LastHeartbeat.IsZero())

	// A second heartbeat rewrites the same row.
	st.CurrentFrameRate = 15.0
	require.NoError(t, d.Heartbeat(ctx, &st))

	got, err := d.Status().GetByCameraID(ctx, d.session, cam.ID)
	require.NoError(t, err)
	assert.Equal(t, 15.0, got.CurrentFrameRate)

	rows, err := d.Status().TotalCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	stats, err := d.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalCameras)
	assert.Equal(t, int64(1), stats.OnlineCameras)
	assert.Equal(t, int64(1), stats.ByManufacturer["Basler"])
	assert.Greater(t, stats.DatabaseBytes, int64(0))
	assert.Greater(t, stats.Queries.TotalQueries, int64(0))
}

func TestMarkStale(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)

	cam := testCamera("SN-600")
	require.NoError(t, d.AddCamera(ctx, &cam, nil))

	st := types.CameraStatus{
		CameraID:      cam.ID,
		Online:        true,
		LastHeartbeat: time.Now().UTC().Add(-time.Hour),
	}
	require.NoError(t, d.Heartbeat(ctx, &st))

	changed, err := d.Status().MarkStale(ctx, d.session, 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), changed)

	got, err := d.Status().GetByCameraID(ctx, d.session, cam.ID)
	require.NoError(t, err)
	assert.False(t, got.Online)
}
