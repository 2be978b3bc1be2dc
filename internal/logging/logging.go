package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"VolumeSentinel/internal/config"
	"VolumeSentinel/internal/recorder"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileName is the active log file inside the log directory. Rotated backups
// are named sentinel-<timestamp>.log by lumberjack.
const FileName = "sentinel.log"

// ParseLevel maps the configured level name to a zerolog level. Unknown
// names mean info.
func ParseLevel(name string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Output owns the sinks behind the root logger.
type Output struct {
	file    *WriteCloseGuard
	path    string
	closers []func() error
}

// Rotate moves the active log file aside as a timestamped backup and starts a
// new one. An absent or empty active file is left alone.
func (o *Output) Rotate() error {
	if o == nil || o.file == nil {
		return nil
	}
	info, err := os.Stat(o.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat log file: %w", err)
	}
	if info.Size() == 0 {
		return nil
	}
	return o.file.Rotate()
}

// Close flushes and closes the file sink.
func (o *Output) Close() error {
	if o == nil {
		return nil
	}
	var errs []error
	for _, c := range o.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// Setup builds the root logger. Events go to the console, the rotating log
// file in cfg.Dir and, when rec is not nil, the log record store.
func Setup(cfg config.LoggingConfig, rec recorder.Recorder, console io.Writer) (zerolog.Logger, *Output, error) {
	level := ParseLevel(cfg.Level)
	writers := []io.Writer{consoleWriter(cfg, console)}
	out := &Output{}

	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return zerolog.Nop(), out, fmt.Errorf("create log dir: %w", err)
		}
		out.path = filepath.Join(cfg.Dir, FileName)
		out.file = &WriteCloseGuard{Writer: &lumberjack.Logger{
			Filename: out.path,
			MaxSize:  5, // MB
			// Backups are removed by age in retention, not by count.
		}}
		writers = append(writers, out.file)
		out.closers = append(out.closers, out.file.Close)
	}

	if rec != nil {
		writers = append(writers, recorder.NewWriter(rec, level))
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().Timestamp().Logger()
	return logger, out, nil
}

func consoleWriter(cfg config.LoggingConfig, out io.Writer) io.Writer {
	if out == nil {
		out = os.Stdout
	}
	if cfg.Format == "json" {
		return out
	}
	cw := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.DateTime,
		NoColor:    !cfg.UseColors,
	}
	if cfg.UseColors {
		cw.FormatLevel = colorLevel
	}
	return cw
}

var levelColors = map[string]*color.Color{
	zerolog.LevelDebugValue: color.New(color.FgHiBlack),
	zerolog.LevelInfoValue:  color.New(color.FgGreen),
	zerolog.LevelWarnValue:  color.New(color.FgYellow),
	zerolog.LevelErrorValue: color.New(color.FgRed),
	zerolog.LevelFatalValue: color.New(color.FgRed, color.Bold),
}

func colorLevel(i interface{}) string {
	name, _ := i.(string)
	label := strings.ToUpper(fmt.Sprintf("%-5s", name))
	if c, ok := levelColors[name]; ok {
		return c.Sprint(label)
	}
	return label
}

// WriteCloseGuard wraps an io.WriteCloser and drops writes after Close,
// since lumberjack re-opens its file on Write.
type WriteCloseGuard struct {
	Writer io.WriteCloser

	mu     sync.Mutex
	closed bool
}

func (c *WriteCloseGuard) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, io.ErrClosedPipe
	}
	return c.Writer.Write(p)
}

// Rotate forwards to the wrapped writer when it supports rotation. It is a
// no-op after Close.
func (c *WriteCloseGuard) Rotate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	r, ok := c.Writer.(interface{ Rotate() error })
	if !ok {
		return nil
	}
	return r.Rotate()
}

func (c *WriteCloseGuard) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.Writer.Close()
}
