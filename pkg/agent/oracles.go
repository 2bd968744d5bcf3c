package agent

import (
	"context"
	"strings"

	"github.com/aapchat/aapchat/pkg/providers"
)

// Classifier decides whether an assistant message indicates imminent tool
// execution. It is a best-effort heuristic: a wrong answer costs one wasted
// structuring pass or one missed extraction, never a crash.
type Classifier interface {
	Classify(ctx context.Context, text string) (bool, error)
}

// Structurer rewrites an assistant message's intent into the structured
// tool-call JSON the extractor consumes.
type Structurer interface {
	Structure(ctx context.Context, text string) (string, error)
}

// LLMOracle backs both judgment passes with a secondary model. The catalog
// function supplies the current tool descriptions for the structuring
// context.
type LLMOracle struct {
	provider providers.LLMProvider
	model    string
	catalog  func() string
}

func NewLLMOracle(provider providers.LLMProvider, model string, catalog func() string) *LLMOracle {
	return &LLMOracle{provider: provider, model: model, catalog: catalog}
}

func (o *LLMOracle) Classify(ctx context.Context, text string) (bool, error) {
	resp, err := o.provider.Chat(ctx, []providers.Message{
		{Role: string(RoleHuman), Content: decisionPromptHeader + text},
	}, nil, o.model, nil)
	if err != nil {
		return false, err
	}
	return strings.Contains(strings.ToLower(resp.Content), "yes"), nil
}

func (o *LLMOracle) Structure(ctx context.Context, text string) (string, error) {
	prompt := structurePrefix + "\n" + o.catalog() + "\n<messages>\n" + text + "\n" + structureSuffix

	resp, err := o.provider.Chat(ctx, []providers.Message{
		{Role: string(RoleHuman), Content: prompt},
	}, nil, o.model, nil)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
