package providers

import (
	"fmt"
	"strings"
	"time"

	anthropicprovider "github.com/aapchat/aapchat/pkg/providers/anthropic"
	"github.com/aapchat/aapchat/pkg/providers/openai_sdk"
)

// CreateProvider is the single entry point for constructing an LLMProvider.
// The provider name comes from configuration; unknown names are rejected at
// startup rather than at first chat call.
func CreateProvider(provider, apiKey, apiBase string, requestTimeout time.Duration) (LLMProvider, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "", "openai":
		return openai_sdk.NewProvider(apiKey, apiBase, openai_sdk.WithRequestTimeout(requestTimeout)), nil
	case "anthropic":
		return anthropicprovider.NewProvider(apiKey, apiBase), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", provider)
	}
}
