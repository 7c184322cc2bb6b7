package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a no-op until InitLogger runs so library callers never hit a nil logger
var Logger = zap.NewNop()

// InitLogger initializes the structured logger
func InitLogger(level string, format string) error {
	var config zap.Config

	if format == "json" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
	}

	config.Level = zap.NewAtomicLevelAt(ParseLevel(level))

	// Disable caller and stack trace for cleaner logs
	config.DisableCaller = true
	config.DisableStacktrace = true

	logger, err := config.Build()
	if err != nil {
		return err
	}
	Logger = logger

	return nil
}

// ParseLevel maps a textual level to a zap level, defaulting to info
func ParseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// LogDenied logs a denied request with minimal structured data
func LogDenied(reason, user, endpoint string) {
	Logger.Info("denied",
		zap.String("reason", reason),
		zap.String("user", user),
		zap.String("endpoint", endpoint),
	)
}

// LogDeniedWithIP logs a denied request with IP address
func LogDeniedWithIP(reason, user, endpoint, ip string) {
	Logger.Info("denied",
		zap.String("reason", reason),
		zap.String("user", user),
		zap.String("endpoint", endpoint),
		zap.String("ip", ip),
	)
}
