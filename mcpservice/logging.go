package mcpservice

import (
	"log/slog"

	"github.com/cockroachdb/errors"

	"github.com/ggoodman/mcp-dispatch-go/mcp"
)

// ErrInvalidLoggingLevel indicates the provided level is not one of the
// protocol-defined LoggingLevel values.
var ErrInvalidLoggingLevel = errors.New("invalid logging level")

// SetLogLevel maps level onto the LevelVar given with WithLevelVar. Without
// one it only validates level.
func (s *Server) SetLogLevel(level mcp.LoggingLevel) error {
	lvl, err := SlogLevel(level)
	if err != nil {
		return err
	}
	if s.level == nil {
		return nil
	}
	s.level.Set(lvl)
	s.log.Info("server.loglevel.set", slog.String("level", string(level)))
	return nil
}

// SlogLevel returns the slog level used for a protocol level. Notice maps to
// info and everything above error maps to error.
func SlogLevel(level mcp.LoggingLevel) (slog.Level, error) {
	switch level {
	case mcp.LoggingLevelDebug:
		return slog.LevelDebug, nil
	case mcp.LoggingLevelInfo, mcp.LoggingLevelNotice:
		return slog.LevelInfo, nil
	case mcp.LoggingLevelWarning:
		return slog.LevelWarn, nil
	case mcp.LoggingLevelError, mcp.LoggingLevelCritical, mcp.LoggingLevelAlert, mcp.LoggingLevelEmergency:
		return slog.LevelError, nil
	default:
		return 0, errors.Wrapf(ErrInvalidLoggingLevel, "%q", level)
	}
}
