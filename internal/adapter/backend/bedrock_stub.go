//go:build !bedrock

package backend

import (
	"fmt"
	"log/slog"

	"agntschat/internal/domain"
	"agntschat/internal/infra/config"
)

func newBedrock(config.BackendConfig, *PromptLibrary, *slog.Logger) (domain.AgentBackend, error) {
	return nil, fmt.Errorf("bedrock backend requires build with -tags bedrock")
}
