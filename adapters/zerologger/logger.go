// Package zerologger provides a glog.Logger backed by zerolog for the
// mailevents binary.
package zerologger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/rs/zerolog"
)

type Options struct {
	Level string
	// Console switches to the human-readable writer.
	Console bool
	Output  io.Writer
}

type Logger struct {
	zl zerolog.Logger
}

func New(opts Options) *Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	if opts.Console {
		out = zerolog.ConsoleWriter{Out: out}
	}
	zl := zerolog.New(out).Level(ParseLevel(opts.Level)).With().Timestamp().Logger()
	return &Logger{zl: zl}
}

// ParseLevel maps config strings onto zerolog levels, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
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

func (l *Logger) Trace(msg string, args ...any) { l.log(l.zl.Trace(), msg, args) }
func (l *Logger) Debug(msg string, args ...any) { l.log(l.zl.Debug(), msg, args) }
func (l *Logger) Info(msg string, args ...any)  { l.log(l.zl.Info(), msg, args) }
func (l *Logger) Warn(msg string, args ...any)  { l.log(l.zl.Warn(), msg, args) }
func (l *Logger) Error(msg string, args ...any) { l.log(l.zl.Error(), msg, args) }

// Fatal logs at fatal level without exiting; callers decide how to stop.
func (l *Logger) Fatal(msg string, args ...any) { l.log(l.zl.WithLevel(zerolog.FatalLevel), msg, args) }

func (l *Logger) WithContext(ctx context.Context) glog.Logger {
	if ctx == nil {
		return l
	}
	return &Logger{zl: l.zl.With().Ctx(ctx).Logger()}
}

// Named returns a child logger tagged with the component name.
func (l *Logger) Named(name string) *Logger {
	return &Logger{zl: l.zl.With().Str("logger", name).Logger()}
}

func (l *Logger) log(event *zerolog.Event, msg string, args []any) {
	if event == nil {
		return
	}
	event.Fields(pairs(args)).Msg(msg)
}

// pairs turns key/value args into a zerolog field map. A dangling key is
// logged under "!BADKEY".
func pairs(args []any) map[string]any {
	fields := make(map[string]any, len(args)/2+1)
	for i := 0; i < len(args); i += 2 {
		key := fmt.Sprint(args[i])
		if i+1 >= len(args) {
			fields["!BADKEY"] = args[i]
			break
		}
		if err, ok := args[i+1].(error); ok {
			fields[key] = err.Error()
			continue
		}
		fields[key] = args[i+1]
	}
	return fields
}

type Provider struct {
	root *Logger
}

func NewProvider(root *Logger) *Provider {
	if root == nil {
		root = New(Options{})
	}
	return &Provider{root: root}
}

func (p *Provider) GetLogger(name string) glog.Logger {
	return p.root.Named(name)
}

var (
	_ glog.Logger         = (*Logger)(nil)
	_ glog.LoggerProvider = (*Provider)(nil)
)
