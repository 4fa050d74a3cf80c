// Package logging wires zerolog into the multi-file layout the engine
// writes to: a main trading log, a verbose debug log, a websocket log, and
// one log file per account. All timestamps render in IST to match the
// operator-facing log format.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"perpmomentum/internal/clock"
)

func init() {
	zerolog.TimeFieldFormat = clock.Layout
	zerolog.TimestampFunc = func() time.Time { return time.Now().In(clock.IST) }
}

// Loggers bundles the process-wide log streams described by the
// operator-facing log format.
type Loggers struct {
	Trading   zerolog.Logger
	Debug     zerolog.Logger
	Websocket zerolog.Logger

	files []*os.File
}

// New opens trading.log, debug.log, and websocket.log under dir, creating
// dir if necessary.
func New(dir string) (*Loggers, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: create dir: %w", err)
	}
	tradingFile, err := openAppend(filepath.Join(dir, "trading.log"))
	if err != nil {
		return nil, err
	}
	debugFile, err := openAppend(filepath.Join(dir, "debug.log"))
	if err != nil {
		return nil, err
	}
	wsFile, err := openAppend(filepath.Join(dir, "websocket.log"))
	if err != nil {
		return nil, err
	}

	l := &Loggers{
		Trading:   newLogger(tradingFile, zerolog.InfoLevel),
		Debug:     newLogger(debugFile, zerolog.DebugLevel),
		Websocket: newLogger(wsFile, zerolog.DebugLevel),
		files:     []*os.File{tradingFile, debugFile, wsFile},
	}
	return l, nil
}

// AccountLogger opens (or creates) <dir>/accounts/<name>.log and
// returns an info-level logger writing to it. The caller owns the
// returned file's lifetime via Loggers.Close.
func (l *Loggers) AccountLogger(dir, name string) (zerolog.Logger, error) {
	accountsDir := filepath.Join(dir, "accounts")
	if err := os.MkdirAll(accountsDir, 0o755); err != nil {
		return zerolog.Logger{}, fmt.Errorf("logging: create accounts dir: %w", err)
	}
	f, err := openAppend(filepath.Join(accountsDir, name+".log"))
	if err != nil {
		return zerolog.Logger{}, err
	}
	l.files = append(l.files, f)
	return newLogger(f, zerolog.InfoLevel).With().Str("account", name).Logger(), nil
}

// Close flushes and closes every open log file.
func (l *Loggers) Close() error {
	var first error
	for _, f := range l.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func openAppend(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open %s: %w", path, err)
	}
	return f, nil
}

func newLogger(w *os.File, level zerolog.Level) zerolog.Logger {
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
