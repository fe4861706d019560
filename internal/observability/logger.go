package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// NodeLogger derives a logger tagged with the node role and identity.
func NodeLogger(role, id string) zerolog.Logger {
	return log.Logger.With().Str("role", role).Str("node", id).Logger()
}
