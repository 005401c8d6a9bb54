// Package logging provides structured logging with runtime level adjustment.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jkindrix/estimatebot/internal/sanitize"
)

// Logger wraps zap.Logger with a shared atomic level.
type Logger struct {
	*zap.Logger
	level zap.AtomicLevel
}

// Config holds configuration for logger initialization.
type Config struct {
	// Level is the initial log level (debug, info, warn, error)
	Level string
	// Format is the output format (json, console)
	Format string
	// Environment is the deployment environment (development, production)
	Environment string
	// Output defaults to stderr.
	Output io.Writer
}

// DefaultConfig returns sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Level:       "info",
		Format:      "json",
		Environment: "development",
	}
}

// New creates a new Logger with runtime level adjustment support.
func New(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	atomicLevel := zap.NewAtomicLevelAt(level)

	var encoderConfig zapcore.EncoderConfig
	if cfg.Environment == "production" {
		encoderConfig = zap.NewProductionEncoderConfig()
	} else {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	encoderConfig.TimeKey = "ts"

	var encoder zapcore.Encoder
	if cfg.Format == "console" {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(out)), atomicLevel)

	opts := []zap.Option{
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	}
	if cfg.Environment == "development" {
		opts = append(opts, zap.Development())
	}

	return &Logger{
		Logger: zap.New(core, opts...).With(zap.String("service", "estimatebot")),
		level:  atomicLevel,
	}, nil
}

// ParseLevel parses a level string into a zapcore.Level.
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown level: %s", level)
	}
}

// SetLevel changes the log level at runtime.
func (l *Logger) SetLevel(level string) error {
	parsed, err := ParseLevel(level)
	if err != nil {
		return err
	}

	previous := l.level.Level()
	l.level.SetLevel(parsed)
	l.Logger.Info("log level changed",
		zap.Stringer("new_level", parsed),
		zap.Stringer("previous_level", previous),
	)
	return nil
}

// GetLevel returns the current log level.
func (l *Logger) GetLevel() string {
	return l.level.String()
}

type levelBody struct {
	Level   string `json:"level"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ServeHTTP reports the level on GET and changes it on PUT or POST, taking
// the level from ?level= or a {"level": "..."} body.
func (l *Logger) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	switch r.Method {
	case http.MethodGet:
		_ = json.NewEncoder(w).Encode(levelBody{Level: l.GetLevel()})

	case http.MethodPut, http.MethodPost:
		newLevel := r.URL.Query().Get("level")
		if newLevel == "" {
			var body levelBody
			if err := json.NewDecoder(io.LimitReader(r.Body, 1024)).Decode(&body); err == nil {
				newLevel = body.Level
			}
		}
		if newLevel == "" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(levelBody{Error: "level parameter required"})
			return
		}
		if err := l.SetLevel(newLevel); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(levelBody{Error: err.Error()})
			return
		}
		_ = json.NewEncoder(w).Encode(levelBody{Level: l.GetLevel(), Message: "level updated"})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		_ = json.NewEncoder(w).Encode(levelBody{Error: "method not allowed"})
	}
}

// Named returns a named child logger sharing the same level.
func (l *Logger) Named(name string) *Logger {
	return &Logger{Logger: l.Logger.Named(name), level: l.level}
}

// Zap returns the underlying zap.Logger.
func (l *Logger) Zap() *zap.Logger {
	return l.Logger
}

// Contact returns masked fields for a customer's contact details.
func Contact(name, email, phone string) []zap.Field {
	fields := make([]zap.Field, 0, 3)
	if name != "" {
		fields = append(fields, zap.String("customer", sanitize.PartialName(name)))
	}
	if email != "" {
		fields = append(fields, zap.String("email", sanitize.Email(email)))
	}
	if phone != "" {
		fields = append(fields, zap.String("phone", sanitize.Phone(phone)))
	}
	return fields
}

// SafeError logs an error with contact details and keys masked.
func SafeError(err error) zap.Field {
	if err == nil {
		return zap.Skip()
	}
	return zap.String("error", sanitize.Text(err.Error()))
}
