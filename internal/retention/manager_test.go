package retention

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"VolumeSentinel/internal/config"
	"VolumeSentinel/internal/logging"
	"VolumeSentinel/internal/model"
	"VolumeSentinel/internal/recorder"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, dir, name string, mod time.Time) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(name), 0o644))
	require.NoError(t, os.Chtimes(p, mod, mod))
	return p
}

func TestPrune_FilesAndRecords(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	retention := 12 * time.Hour

	active := touch(t, dir, "sentinel.log", now.Add(-48*time.Hour))
	oldBackup := touch(t, dir, "sentinel-2026-05-08T10-00-00.000.log", now.Add(-26*time.Hour))
	oldGzip := touch(t, dir, "sentinel-2026-05-08T11-00-00.000.log.gz", now.Add(-25*time.Hour))
	freshBackup := touch(t, dir, "sentinel-2026-05-10T09-00-00.000.log", now.Add(-3*time.Hour))
	unrelated := touch(t, dir, "notes.txt", now.Add(-72*time.Hour))

	rec, err := recorder.NewBoltRecorder(filepath.Join(t.TempDir(), "r.bolt"))
	require.NoError(t, err)
	defer rec.Close()
	ctx := context.Background()
	require.NoError(t, rec.Append(ctx, model.LogRecord{Timestamp: now.Add(-13 * time.Hour), Message: "old"}))
	require.NoError(t, rec.Append(ctx, model.LogRecord{Timestamp: now.Add(-time.Hour), Message: "new"}))

	m := NewManager(dir, "sentinel.log", rec, retention, time.Minute, zerolog.Nop())
	res, err := m.Prune(ctx, now, retention)
	require.NoError(t, err)
	assert.Equal(t, Result{Files: 2, Records: 1}, res)

	assert.FileExists(t, active, "active file is never pruned")
	assert.FileExists(t, freshBackup)
	assert.FileExists(t, unrelated)
	assert.NoFileExists(t, oldBackup)
	assert.NoFileExists(t, oldGzip)

	left, err := rec.Recent(ctx, recorder.Query{})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "new", left[0].Message)
}

func TestPrune_MissingDir(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "absent"), "sentinel.log", nil, time.Hour, time.Minute, zerolog.Nop())
	res, err := m.Prune(context.Background(), time.Now(), time.Hour)
	require.NoError(t, err)
	assert.Zero(t, res.Files)
}

func TestNewManager_RaisesShortInterval(t *testing.T) {
	m := NewManager("", "sentinel.log", nil, time.Hour, 10*time.Second, zerolog.Nop())
	assert.Equal(t, MinInterval, m.Interval)
}

func TestStart_RunsInitialPass(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	stale := touch(t, dir, "sentinel-2020-01-01T00-00-00.000.log", now.Add(-30*24*time.Hour))

	m := NewManager(dir, "sentinel.log", recorder.NewNoopRecorder(), time.Hour, time.Hour, zerolog.Nop())
	require.NoError(t, m.Start(context.Background()))
	m.Stop()

	assert.NoFileExists(t, stale)
}

func TestRotateOnce_OldLinesLeaveActiveFile(t *testing.T) {
	dir := t.TempDir()
	logger, out, err := logging.Setup(config.LoggingConfig{Level: "info", Format: "json", Dir: dir}, nil, io.Discard)
	require.NoError(t, err)
	defer out.Close()

	logger.Info().Msg("stale line")

	m := NewManager(dir, logging.FileName, nil, 12*time.Hour, time.Minute, zerolog.Nop())
	m.Rotator = out
	m.Now = func() time.Time { return time.Now().Add(13 * time.Hour) }

	res, err := m.RotateOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Files)

	logger.Info().Msg("fresh line")
	active, err := os.ReadFile(filepath.Join(dir, logging.FileName))
	require.NoError(t, err)
	assert.NotContains(t, string(active), "stale line")
	assert.Contains(t, string(active), "fresh line")

	backups, err := filepath.Glob(filepath.Join(dir, "sentinel-*.log"))
	require.NoError(t, err)
	assert.Empty(t, backups)
}

type failingRotator struct{}

func (failingRotator) Rotate() error { return os.ErrPermission }

func TestRotateOnce_RotationError(t *testing.T) {
	m := NewManager(t.TempDir(), logging.FileName, nil, time.Hour, time.Minute, zerolog.Nop())
	m.Rotator = failingRotator{}
	_, err := m.RotateOnce(context.Background())
	assert.ErrorIs(t, err, os.ErrPermission)
}

func TestRotateEvery(t *testing.T) {
	m := NewManager("", logging.FileName, nil, 12*time.Hour, time.Minute, zerolog.Nop())
	assert.Equal(t, RotateInterval, m.rotateEvery())
	m.Retention = 20 * time.Minute
	assert.Equal(t, 20*time.Minute, m.rotateEvery())
	m.Retention = time.Second
	assert.Equal(t, MinInterval, m.rotateEvery())
}
