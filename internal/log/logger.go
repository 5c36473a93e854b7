// Package log provides structured diagnostic logging for the shellcode
// tracker using zap. It is strictly separate from internal/tracelog: this
// logger is for operator-facing diagnostics (phase changes, configuration,
// harness errors) and may be rotated, leveled, or redirected freely; the
// trace log is the machine-parseable per-instruction artifact and must
// never be interleaved with this one.
package log

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger with tracker-specific helpers.
type Logger struct {
	*zap.Logger
}

var (
	// L is the global logger instance. It defaults to a no-op logger so
	// packages that log diagnostics unconditionally (internal/argos, on its
	// translation-miss and malformed-PE paths) never need a nil check;
	// Init/New replace it with a real zap logger once the CLI has parsed
	// --verbose.
	L    = NewNop()
	once sync.Once
)

// Init initializes the global logger with the given configuration.
// Safe to call multiple times; only the first call takes effect.
func Init(debug bool) {
	once.Do(func() {
		L = New(debug)
	})
}

// New creates a new Logger instance.
func New(debug bool) *Logger {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		logger = zap.NewNop()
	}

	return &Logger{Logger: logger}
}

// NewNop creates a no-op logger for testing.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// PhaseChange logs a tracking-state-machine transition.
func (l *Logger) PhaseChange(from, to string, cr3 uint64) {
	l.Info("phase change",
		zap.String("from", from),
		zap.String("to", to),
		Addr(cr3),
	)
}

// ModulesEnumerated logs the outcome of one loaded-module walk.
func (l *Logger) ModulesEnumerated(count int, fsBase uint64) {
	l.Debug("modules enumerated",
		zap.Int("count", count),
		Ptr("fs_base", fsBase),
	)
}

// SyscallPrevented logs a stop triggered by the first-system-call
// condition.
func (l *Logger) SyscallPrevented(eax uint64, eip uint64) {
	l.Warn("prevented system call",
		zap.Uint64("eax", eax),
		Addr(eip),
	)
}

// InstructionCeiling logs a stop triggered by the max-instructions
// condition.
func (l *Logger) InstructionCeiling(count uint32) {
	l.Warn("instruction ceiling reached", zap.Uint32("count", count))
}

// WithComponent returns a logger with the component field preset.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{Logger: l.Logger.With(zap.String("component", component))}
}

// Hex formats a uint64 as a hex string for logging.
func Hex(addr uint64) string {
	return "0x" + hexString(addr)
}

func hexString(v uint64) string {
	const digits = "0123456789abcdef"
	if v == 0 {
		return "0"
	}
	buf := make([]byte, 16)
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = digits[v&0xf]
		v >>= 4
	}
	return string(buf[i:])
}

// Field helpers for common patterns.

// Addr creates an address field.
func Addr(addr uint64) zap.Field {
	return zap.String("addr", Hex(addr))
}

// Size creates a size field.
func Size(size uint64) zap.Field {
	return zap.Uint64("size", size)
}

// Ptr creates a pointer field.
func Ptr(name string, ptr uint64) zap.Field {
	return zap.String(name, Hex(ptr))
}
