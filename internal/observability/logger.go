package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger returns the process logger tagged with app. The writer and
// level come from internal/logging, which must be configured first.
func InitLogger(app string) zerolog.Logger {
	return log.Logger.With().Str("app", app).Logger()
}
