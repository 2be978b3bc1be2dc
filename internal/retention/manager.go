package retention

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"VolumeSentinel/internal/recorder"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// MinInterval is the shortest housekeeping cadence.
const MinInterval = time.Minute

// RotateInterval is how often the active log file becomes a backup.
const RotateInterval = time.Hour

// Rotator starts a new active log file.
type Rotator interface {
	Rotate() error
}

// Result reports what one pruning pass removed.
type Result struct {
	Files   int
	Records int
}

// Manager bounds the disk footprint of logging. It deletes rotated log files
// and stored log records older than the retention window.
type Manager struct {
	Dir        string
	ActiveFile string
	Recorder   recorder.Recorder
	Retention  time.Duration
	Interval   time.Duration
	Now        func() time.Time
	// Rotator is optional. When set, the active file is rotated every
	// RotateInterval, or every Retention if that is shorter.
	Rotator Rotator

	logger zerolog.Logger
	cron   *cron.Cron
	wg     sync.WaitGroup
}

// NewManager creates a retention manager for the log directory and record store.
func NewManager(dir, activeFile string, rec recorder.Recorder, retention, interval time.Duration, logger zerolog.Logger) *Manager {
	if interval < MinInterval {
		interval = MinInterval
	}
	return &Manager{
		Dir:        dir,
		ActiveFile: activeFile,
		Recorder:   rec,
		Retention:  retention,
		Interval:   interval,
		Now:        time.Now,
		logger:     logger.With().Str("component", "retention").Logger(),
	}
}

// Prune deletes rotated log files whose modification time is before
// now-retention and log records older than the same cutoff. The active log
// file is never touched. Both steps run even if the first one fails.
func (m *Manager) Prune(ctx context.Context, now time.Time, retention time.Duration) (Result, error) {
	cutoff := now.Add(-retention)
	var res Result
	var errs []error

	files, err := m.pruneFiles(cutoff)
	res.Files = files
	if err != nil {
		errs = append(errs, err)
	}

	if m.Recorder != nil {
		n, err := m.Recorder.Prune(ctx, cutoff)
		res.Records = n
		if err != nil {
			errs = append(errs, fmt.Errorf("prune log records: %w", err))
		}
	}
	return res, errors.Join(errs...)
}

func (m *Manager) pruneFiles(cutoff time.Time) (int, error) {
	if m.Dir == "" {
		return 0, nil
	}
	entries, err := os.ReadDir(m.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read log dir: %w", err)
	}

	removed := 0
	var errs []error
	for _, e := range entries {
		if e.IsDir() || !m.isBackup(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(m.Dir, e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove %s: %w", e.Name(), err))
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// isBackup matches lumberjack backups of the active file:
// <name>-<timestamp><ext>, optionally gzipped.
func (m *Manager) isBackup(name string) bool {
	if name == m.ActiveFile {
		return false
	}
	ext := filepath.Ext(m.ActiveFile)
	prefix := strings.TrimSuffix(m.ActiveFile, ext) + "-"
	name = strings.TrimSuffix(name, ".gz")
	return strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ext) && len(name) > len(prefix)+len(ext)
}

// RunOnce runs a pruning pass with the configured clock and window, logging
// the outcome.
func (m *Manager) RunOnce(ctx context.Context) (Result, error) {
	res, err := m.Prune(ctx, m.Now(), m.Retention)
	if err != nil {
		m.logger.Error().Err(err).Int("files", res.Files).Int("records", res.Records).Msg("Log retention pass failed")
		return res, err
	}
	if res.Files > 0 || res.Records > 0 {
		m.logger.Info().Int("files", res.Files).Int("records", res.Records).Dur("retention", m.Retention).Msg("Pruned old logs")
	} else {
		m.logger.Debug().Msg("Nothing to prune")
	}
	return res, nil
}

// RotateOnce rotates the active log file and then prunes, so the lines just
// moved into a backup fall under the same age rule as older backups.
func (m *Manager) RotateOnce(ctx context.Context) (Result, error) {
	if m.Rotator != nil {
		if err := m.Rotator.Rotate(); err != nil {
			m.logger.Error().Err(err).Msg("Log rotation failed")
			return Result{}, fmt.Errorf("rotate log file: %w", err)
		}
	}
	return m.RunOnce(ctx)
}

func (m *Manager) rotateEvery() time.Duration {
	every := RotateInterval
	if m.Retention > 0 && m.Retention < every {
		every = m.Retention
	}
	return max(every, MinInterval)
}

// Start runs one pass in the background and schedules the rest on the
// housekeeping interval.
func (m *Manager) Start(ctx context.Context) error {
	m.cron = cron.New()
	spec := fmt.Sprintf("@every %s", m.Interval)
	if _, err := m.cron.AddFunc(spec, func() { _, _ = m.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("register retention task: %w", err)
	}
	if m.Rotator != nil {
		rotate := fmt.Sprintf("@every %s", m.rotateEvery())
		if _, err := m.cron.AddFunc(rotate, func() { _, _ = m.RotateOnce(ctx) }); err != nil {
			return fmt.Errorf("register rotation task: %w", err)
		}
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		_, _ = m.RunOnce(ctx)
	}()

	m.cron.Start()
	m.logger.Info().Dur("interval", m.Interval).Dur("retention", m.Retention).Msg("Log retention started")
	return nil
}

// Stop halts the schedule and waits for a running pass to finish.
func (m *Manager) Stop() {
	if m.cron != nil {
		<-m.cron.Stop().Done()
	}
	m.wg.Wait()
	m.logger.Info().Msg("Log retention stopped")
}
