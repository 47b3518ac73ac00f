// Package tools builds the MCP tool surface: per-profile memory tools plus
// profile-independent housekeeping tools.
package tools

import (
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/evermem/evermem/internal/config"
	"github.com/evermem/evermem/internal/memory"
)

const serverVersion = "0.3.0"

type toolRegisterer interface {
	RegisterTools(s *server.MCPServer) error
}

// NewServer assembles the MCP server. A nil svc means the memory subsystem
// failed to initialize: only the housekeeping tools are registered and the
// degraded state is logged, so the hosting process stays useful.
func NewServer(cfg *config.Config, svc *memory.Service, log zerolog.Logger) (*server.MCPServer, error) {
	s := server.NewMCPServer(
		"evermem",
		serverVersion,
		server.WithToolCapabilities(true),
	)

	var handlers []toolRegisterer
	handlers = append(handlers, NewHousekeepingHandler())

	if svc != nil {
		for _, profile := range cfg.Profiles {
			handlers = append(handlers, NewMemoryHandler(svc, profile, log))
		}
	} else {
		log.Warn().Msg("memory subsystem disabled, registering housekeeping tools only")
	}

	for _, h := range handlers {
		if err := h.RegisterTools(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}
