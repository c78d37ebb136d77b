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

	"github.com/rs/zerolog"

	"github.com/rexliu/w3abridge/pkg/config"
)

// New returns a console logger on stdout tagged with component.
func New(component string) zerolog.Logger {
	return NewWriter(component, os.Stdout)
}

// NewWriter returns a console logger on w tagged with component.
func NewWriter(component string, w io.Writer) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
	}
	return zerolog.New(output).With().Timestamp().Str("component", component).Logger()
}

// Configure builds a logger from config on top of base, which is stdout
// for the daemon and stderr for the bridge. The returned closer releases
// the log file, if any.
func Configure(component string, base io.Writer, cfg config.LoggingConfig) (zerolog.Logger, io.Closer, error) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("logging.level: %w", err)
		}
		level = parsed
	}

	out := base
	if !strings.EqualFold(cfg.Format, "json") {
		out = zerolog.ConsoleWriter{Out: base, TimeFormat: time.RFC3339}
	}

	var closer io.Closer = nopCloser{}
	if cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o700); err != nil {
			return zerolog.Nop(), nil, err
		}
		file, err := newRollingFile(cfg.FilePath, cfg.FileMaxSize, cfg.FileBackups)
		if err != nil {
			return zerolog.Nop(), nil, err
		}
		// The file always receives JSON.
		out = zerolog.MultiLevelWriter(out, file)
		closer = file
	}

	logger := zerolog.New(out).Level(level).With().Timestamp().Str("component", component).Logger()
	return logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

type rollingFile struct {
	mu      sync.Mutex
	path    string
	max     int
	backups int
	file    *os.File
}

func newRollingFile(path string, maxMB, backups int) (*rollingFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, err
	}
	if backups <= 0 {
		backups = 1
	}
	return &rollingFile{path: path, max: maxMB, backups: backups, file: f}, nil
}

// Write appends p, rotating first when p would push the file past its limit.
// A failed rotation is reported but p is still written to the current file.
func (r *rollingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return 0, err
		}
		r.file = f
	}
	var rotateErr error
	if r.max > 0 {
		if info, err := r.file.Stat(); err == nil && info.Size()+int64(len(p)) > r.limit() {
			rotateErr = r.rotate()
		}
	}
	if r.file == nil {
		return 0, rotateErr
	}
	n, err := r.file.Write(p)
	if err != nil {
		return n, err
	}
	return n, rotateErr
}

func (r *rollingFile) limit() int64 {
	return int64(r.max) * 1024 * 1024
}

// rotate shifts path.N to path.N+1, dropping the oldest backup. The live file
// is always reopened in append mode, so a failed rename keeps its contents.
func (r *rollingFile) rotate() error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = fmt.Errorf("rotate %s: %w", r.path, err)
		}
	}
	keep(r.file.Close())
	for i := r.backups - 1; i >= 1; i-- {
		err := os.Rename(fmt.Sprintf("%s.%d", r.path, i), fmt.Sprintf("%s.%d", r.path, i+1))
		if !errors.Is(err, os.ErrNotExist) {
			keep(err)
		}
	}
	keep(os.Rename(r.path, r.path+".1"))
	newFile, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		r.file = nil
		keep(err)
		return first
	}
	r.file = newFile
	return first
}

func (r *rollingFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	return r.file.Close()
}
