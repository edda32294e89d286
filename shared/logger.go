package shared

import (
	"fmt"

	"go.uber.org/zap"
)

// LoggerConfig selects the zap preset for a process.
type LoggerConfig struct {
	ServiceName string // "attestctl" or the embedding application's name
	EnclaveMode bool   // running inside a confidential VM; only errors are emitted
	Development bool   // console encoder, debug level

	// Level overrides the preset level ("debug", "info", "warn", "error").
	// Ignored in enclave mode.
	Level string
}

// Logger is the zap logger shared by every verification component.
type Logger struct {
	*zap.Logger
	serviceName string
	enclaveMode bool
}

// NewLogger builds a Logger for config.
func NewLogger(config LoggerConfig) (*Logger, error) {
	var zc zap.Config
	switch {
	case config.EnclaveMode:
		// Nothing about the peer or its evidence may reach the host below error level.
		zc = zap.NewProductionConfig()
		zc.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
		zc.DisableCaller = true
		zc.DisableStacktrace = true
	case config.Development:
		zc = zap.NewDevelopmentConfig()
	default:
		zc = zap.NewProductionConfig()
	}

	if config.Level != "" && !config.EnclaveMode {
		level, err := zap.ParseAtomicLevel(config.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", config.Level, err)
		}
		zc.Level = level
	}

	z, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{
		Logger: z.With(
			zap.String("service", config.ServiceName),
			zap.Bool("enclave_mode", config.EnclaveMode),
		),
		serviceName: config.ServiceName,
		enclaveMode: config.EnclaveMode,
	}, nil
}

// NewLoggerFromEnv reads ENCLAVE_MODE, DEVELOPMENT and LOG_LEVEL.
func NewLoggerFromEnv(serviceName string) (*Logger, error) {
	return NewLogger(LoggerConfig{
		ServiceName: serviceName,
		EnclaveMode: GetEnvBoolOrDefault("ENCLAVE_MODE", false),
		Development: GetEnvBoolOrDefault("DEVELOPMENT", false),
		Level:       GetEnvOrDefault("LOG_LEVEL", ""),
	})
}

// WrapLogger adapts an existing zap logger, e.g. zaptest.NewLogger in tests.
func WrapLogger(z *zap.Logger) *Logger {
	if z == nil {
		z = zap.NewNop()
	}
	return &Logger{Logger: z}
}

// NopLogger returns a logger that discards everything.
func NopLogger() *Logger {
	return WrapLogger(zap.NewNop())
}

// WithVerification scopes log lines to a single verification call
func (l *Logger) WithVerification(verificationID string) *Logger {
	if verificationID == "" {
		return l
	}
	return &Logger{
		Logger:      l.Logger.With(zap.String("verification_id", verificationID)),
		serviceName: l.serviceName,
		enclaveMode: l.enclaveMode,
	}
}

// WithEndpoint scopes log lines to the attestation endpoint being verified
func (l *Logger) WithEndpoint(endpoint string) *Logger {
	if endpoint == "" {
		return l
	}
	return &Logger{
		Logger:      l.Logger.With(zap.String("endpoint", endpoint)),
		serviceName: l.serviceName,
		enclaveMode: l.enclaveMode,
	}
}

// Critical logs at error level, so it survives enclave mode.
func (l *Logger) Critical(msg string, fields ...zap.Field) {
	l.Logger.Error(msg, append(fields, zap.Bool("critical", true))...)
}

// Security records a rejected attestation or other security event. It logs
// at warn level, raised to error in enclave mode so rejections are never
// filtered out.
func (l *Logger) Security(msg string, fields ...zap.Field) {
	fields = append(fields, zap.Bool("security_event", true))
	if l.enclaveMode {
		l.Logger.Error(msg, fields...)
		return
	}
	l.Logger.Warn(msg, fields...)
}

// DebugIf logs only outside enclave mode.
func (l *Logger) DebugIf(msg string, fields ...zap.Field) {
	if !l.enclaveMode {
		l.Logger.Debug(msg, fields...)
	}
}
