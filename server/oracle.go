package server

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

// Completer produces a chat completion for a system/user prompt pair.
// Satisfied by the OpenAI-compatible client; tests substitute fakes.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// OpenAICompleter calls an OpenAI-compatible chat completions API.
// Works against DeepSeek and other compatible providers via baseURL.
type OpenAICompleter struct {
	client *openai.Client
	model  string
}

// NewOpenAICompleter creates a completer for the given provider.
// Returns nil when no API key is configured; callers treat a nil
// completer as "always fall back".
func NewOpenAICompleter(apiKey, baseURL, model string) *OpenAICompleter {
	if apiKey == "" {
		return nil
	}

	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}

	return &OpenAICompleter{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}
}

func (c *OpenAICompleter) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		Temperature: 0.8,
		MaxTokens:   1024,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty completion response")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("empty completion response")
	}
	return content, nil
}

// Generator turns drawn sticks into a fortune reading. Generation
// failures never surface to the caller: a payment has usually already
// settled by the time we get here, so the static verses are served
// instead of an error.
type Generator struct {
	completer Completer // nil means always fall back
	log       *logrus.Logger
	metrics   *Metrics
}

// NewGenerator creates a fortune generator
func NewGenerator(completer Completer, log *logrus.Logger, metrics *Metrics) *Generator {
	return &Generator{
		completer: completer,
		log:       log,
		metrics:   metrics,
	}
}

func languageInstruction(language string) string {
	switch language {
	case "zh-CN":
		return "请用简体中文回答 (Simplified Chinese)。"
	case "zh-TW":
		return "請用繁體中文回答 (Traditional Chinese)。"
	default:
		return "Please respond in English."
	}
}

var categoryLabels = map[string]map[string]string{
	"career": {"en": "Career & Success", "zh-CN": "事业前程", "zh-TW": "事業前程"},
	"wealth": {"en": "Wealth & Prosperity", "zh-CN": "财运亨通", "zh-TW": "財運亨通"},
	"love":   {"en": "Love & Marriage", "zh-CN": "姻缘情感", "zh-TW": "姻緣情感"},
	"health": {"en": "Health & Well-being", "zh-CN": "身体健康", "zh-TW": "身體健康"},
	"family": {"en": "Family Safety", "zh-CN": "阖家平安", "zh-TW": "闔家平安"},
}

func categoryLabel(category, language string) string {
	if byLang, ok := categoryLabels[category]; ok {
		if label, ok := byLang[language]; ok {
			return label
		}
	}
	return category
}

func sticksList(sticks []int) string {
	parts := make([]string, len(sticks))
	for i, s := range sticks {
		parts[i] = fmt.Sprintf("%d", s)
	}
	return strings.Join(parts, ", ")
}

func systemPrompt(category, language string) string {
	return fmt.Sprintf(`You are a wise, mystical I Ching and Taoist master for the Lunar New Year.
The user has drawn THREE fortune sticks (Chien Tung).
Your task is to synthesize the meaning of these three sticks specifically regarding their wish: %q.

Tone: Festive, encouraging, mystical, and wise. Bring good fortune and positive energy.
Output Language: %s

You MUST respond with valid JSON matching this exact schema:
{
  "stickNumbers": [array of the input stick numbers],
  "mainPoem": [array of 4 poem lines as strings],
  "overallLuck": "string - overall luck level (e.g. 'Great Fortune / 上上签', 'Good Fortune / 上签', etc.)",
  "explanation": "string - detailed interpretation combining the meanings of all three sticks",
  "advice": "string - specific actionable advice for the wish category"
}

IMPORTANT: Output ONLY the JSON object, no markdown code blocks, no extra text.`,
		categoryLabel(category, language), languageInstruction(language))
}

func userPrompt(sticks []int, category, language, wishText string) string {
	prompt := fmt.Sprintf(`The user drew sticks: %s.
Wish Category: %s.`, sticksList(sticks), categoryLabel(category, language))
	if wishText != "" {
		prompt += fmt.Sprintf("\nUser's personal wish: %q", wishText)
	}
	return prompt + "\nPlease output the fortune interpretation as JSON."
}

// codeFencePattern matches a markdown code block, with or without a
// language tag, so fenced model output still parses
var codeFencePattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

func parseFortune(text string, sticks []int) (*FortuneResult, error) {
	if match := codeFencePattern.FindStringSubmatch(text); match != nil {
		text = strings.TrimSpace(match[1])
	}

	var result FortuneResult
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, fmt.Errorf("parse fortune JSON: %w", err)
	}
	if len(result.MainPoem) == 0 || result.Explanation == "" {
		return nil, fmt.Errorf("incomplete fortune response")
	}

	// The model echoes stick numbers back; never trust the echo
	result.StickNumbers = sticks
	return &result, nil
}

// Generate interprets the drawn sticks. It always returns a usable
// result; model failures are logged, counted and replaced by the
// static verses.
func (g *Generator) Generate(ctx context.Context, sticks []int, category, language, wishText string) *FortuneResult {
	if language == "" {
		language = "zh-CN"
	}

	if g.completer == nil {
		g.metrics.GeneratorFallbacks.Inc()
		return fallbackFortune(sticks, language)
	}

	start := time.Now()
	text, err := g.completer.Complete(ctx, systemPrompt(category, language), userPrompt(sticks, category, language, wishText))
	g.metrics.GenerationDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		g.log.WithError(err).Warn("fortune generation failed, serving fallback")
		g.metrics.GeneratorFallbacks.Inc()
		return fallbackFortune(sticks, language)
	}

	result, err := parseFortune(text, sticks)
	if err != nil {
		g.log.WithError(err).Warn("unparseable fortune, serving fallback")
		g.metrics.GeneratorFallbacks.Inc()
		return fallbackFortune(sticks, language)
	}

	return result
}

// fallbackFortune is the static reading served when generation is
// unavailable. The verses are fixed so a paid request still receives
// a complete, well-formed fortune.
func fallbackFortune(sticks []int, language string) *FortuneResult {
	if language == "en" {
		return &FortuneResult{
			StickNumbers: sticks,
			MainPoem: []string{
				"New Year brings new hope,",
				"Three stars shine from above.",
				"Peace in the heart remains,",
				"Prosperity flows with love.",
			},
			OverallLuck: "Lucky / Good Fortune",
			Explanation: "The stars are aligning in your favor. Though the path ahead holds mystery, the general direction is positive and promising.",
			Advice:      "Proceed with confidence and optimism. The new year favors those who take thoughtful action.",
		}
	}

	return &FortuneResult{
		StickNumbers: sticks,
		MainPoem: []string{
			"新春迎新福，",
			"三星照九霄。",
			"心安万事顺，",
			"福运自来潮。",
		},
		OverallLuck: "吉 · 上签",
		Explanation: "三签合观，运势向好。虽前路迷蒙，但大方向吉利，宜稳步前行。",
		Advice:      "宜怀信心与乐观之心前行。新年利于深思而行之人。",
	}
}
