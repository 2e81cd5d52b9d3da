package step

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/runloom/runloom/engine/core"
	"github.com/runloom/runloom/engine/workflow"
)

const defaultAITimeout = 2 * time.Minute

// ModelFactory builds a chat model for one ai step invocation.
type ModelFactory interface {
	Model(cfg AIConfig) (llms.Model, error)
}

// ProviderKeys holds the API credentials the langchain factory hands to each
// provider client.
type ProviderKeys struct {
	OpenAI    string
	Anthropic string
}

// LangchainFactory is the production ModelFactory.
type LangchainFactory struct {
	Keys ProviderKeys
}

func (f *LangchainFactory) Model(cfg AIConfig) (llms.Model, error) {
	switch cfg.Provider {
	case AIProviderOpenAI:
		opts := []openai.Option{openai.WithModel(cfg.Model)}
		if f.Keys.OpenAI != "" {
			opts = append(opts, openai.WithToken(f.Keys.OpenAI))
		}
		if cfg.OutputSchema != nil {
			opts = append(opts, openai.WithResponseFormat(openai.ResponseFormatJSON))
		}
		return openai.New(opts...)
	case AIProviderAnthropic:
		opts := []anthropic.Option{anthropic.WithModel(cfg.Model)}
		if f.Keys.Anthropic != "" {
			opts = append(opts, anthropic.WithToken(f.Keys.Anthropic))
		}
		return anthropic.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported ai provider %q", cfg.Provider)
	}
}

// runAI performs a single model completion. Provider and validation failures
// are recorded on the result instead of failing the step, so workflows can
// branch on them.
func (e *Executor) runAI(ctx context.Context, c AIConfig) (json.RawMessage, error) {
	if c.Prompt == "" {
		return nil, fmt.Errorf("ai step requires a prompt")
	}
	if e.Models == nil {
		return nil, fmt.Errorf("ai step requires a configured model factory")
	}
	res := &AIResult{Provider: c.Provider, Model: c.Model}
	model, err := e.Models.Model(c)
	if err != nil {
		return nil, err
	}
	timeout := defaultAITimeout
	if c.Timeout != "" {
		if timeout, err = core.ParseHumanDuration(c.Timeout); err != nil {
			return nil, fmt.Errorf("parsing ai timeout: %w", err)
		}
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	messages := make([]llms.MessageContent, 0, 2)
	if c.System != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, c.System))
	}
	prompt := c.Prompt
	if c.OutputSchema != nil {
		// Providers without a native JSON mode still get the schema inline.
		schemaJSON, merr := json.Marshal(c.OutputSchema)
		if merr != nil {
			return nil, fmt.Errorf("marshaling output schema: %w", merr)
		}
		prompt = fmt.Sprintf("%s\n\nRespond with a single JSON object matching this JSON schema, with no surrounding text:\n%s",
			prompt, schemaJSON)
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, prompt))

	opts := []llms.CallOption{}
	if c.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(c.Temperature))
	}
	if c.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(c.MaxTokens))
	}
	resp, err := model.GenerateContent(cctx, messages, opts...)
	if err != nil {
		res.Error = err.Error()
		return core.RawJSON(res)
	}
	if len(resp.Choices) == 0 {
		res.Error = "model returned no choices"
		return core.RawJSON(res)
	}
	res.Content = resp.Choices[0].Content
	if c.OutputSchema == nil {
		res.Success = true
		return core.RawJSON(res)
	}
	structured, err := validateStructured(c.OutputSchema, res.Content)
	if err != nil {
		res.Error = err.Error()
		return core.RawJSON(res)
	}
	res.Structured = structured
	res.Success = true
	return core.RawJSON(res)
}

func validateStructured(schema workflow.Schema, content string) (map[string]any, error) {
	var parsed map[string]any
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, fmt.Errorf("response is not a JSON object: %w", err)
	}
	compiled, err := schema.Compile()
	if err != nil {
		return nil, err
	}
	if result := compiled.Validate(parsed); !result.Valid {
		return nil, fmt.Errorf("response does not match the output schema")
	}
	return parsed, nil
}
