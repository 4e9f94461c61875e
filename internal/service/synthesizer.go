package service

import (
	"bytes"
	"context"
	"log/slog"
	"strings"

	cfotel "github.com/matross-gh/platform-engineering-copilot/internal/adapter/otel"
	"github.com/matross-gh/platform-engineering-copilot/internal/config"
	"github.com/matross-gh/platform-engineering-copilot/internal/domain/executor"
	"github.com/matross-gh/platform-engineering-copilot/internal/port/oracle"
)

// noResultsResponse is returned when no executor produced anything.
const noResultsResponse = "I could not process that request. No executor was able to handle it; " +
	"try rephrasing or naming the resource, subscription or template you mean."

const synthesisSystemPrompt = "You are the response writer of a platform engineering copilot. " +
	"Merge specialist outputs into one accurate, concise answer in markdown."

// synthesisSection is one executor's labeled output in templates/synthesis.tmpl.
type synthesisSection struct {
	Label   string
	Content string
	Success bool
}

type synthesisPromptData struct {
	Message  string
	Sections []synthesisSection
}

// Synthesizer merges executor results into one response.
type Synthesizer struct {
	oracle    oracle.Oracle
	model     string
	maxTokens int
	metrics   *cfotel.Metrics
}

// NewSynthesizer creates a synthesizer. A nil oracle always concatenates.
func NewSynthesizer(o oracle.Oracle, cfg config.Orchestrator) *Synthesizer {
	maxTokens := cfg.SynthesisMaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}
	return &Synthesizer{oracle: o, model: cfg.SynthesisModel, maxTokens: maxTokens}
}

// SetMetrics enables oracle call metrics.
func (s *Synthesizer) SetMetrics(m *cfotel.Metrics) { s.metrics = m }

// Synthesize returns the response text for results and the number of
// oracle calls made. A single result is returned verbatim.
func (s *Synthesizer) Synthesize(ctx context.Context, message string, results []executor.Result) (string, int) {
	switch len(results) {
	case 0:
		return noResultsResponse, 0
	case 1:
		return singleContent(results[0]), 0
	}

	if s.oracle == nil {
		return concatResults(results), 0
	}

	prompt, err := s.buildPrompt(message, results)
	if err != nil {
		slog.Error("render synthesis prompt", "error", err)
		return concatResults(results), 0
	}

	spanCtx, span := cfotel.StartOracleSpan(ctx, "synthesis", s.model)
	text, err := s.oracle.Complete(spanCtx, oracle.Request{
		Model:       s.model,
		System:      synthesisSystemPrompt,
		Prompt:      prompt,
		MaxTokens:   s.maxTokens,
		Temperature: 0.3,
	})
	cfotel.EndSpan(span, err)
	s.metrics.RecordOracle(ctx, "synthesis", err == nil)

	text = strings.TrimSpace(text)
	if err != nil || text == "" {
		slog.Warn("synthesis oracle unusable, concatenating results",
			"results", len(results),
			"error", err,
		)
		return concatResults(results), 1
	}
	return text, 1
}

func (s *Synthesizer) buildPrompt(message string, results []executor.Result) (string, error) {
	data := synthesisPromptData{Message: sanitizePromptInput(message)}
	for _, r := range results {
		data.Sections = append(data.Sections, synthesisSection{
			Label:   sectionLabel(r.Category),
			Content: sanitizePromptInput(resultBody(r)),
			Success: r.Success,
		})
	}
	var buf bytes.Buffer
	if err := promptTemplates.ExecuteTemplate(&buf, "synthesis.tmpl", data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// singleContent is the verbatim content of a lone result, or its errors
// when it produced none.
func singleContent(r executor.Result) string {
	if strings.TrimSpace(r.Content) != "" {
		return r.Content
	}
	return resultBody(r)
}

func resultBody(r executor.Result) string {
	if strings.TrimSpace(r.Content) != "" {
		return r.Content
	}
	if len(r.Errors) > 0 {
		return "Error: " + strings.Join(r.Errors, "; ")
	}
	if len(r.Warnings) > 0 {
		return strings.Join(r.Warnings, "; ")
	}
	return "(no output)"
}

// concatResults joins results under category headings.
func concatResults(results []executor.Result) string {
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("## ")
		b.WriteString(sectionLabel(r.Category))
		if !r.Success {
			b.WriteString(" (failed)")
		}
		b.WriteString("\n\n")
		b.WriteString(resultBody(r))
	}
	return b.String()
}

var sectionLabels = map[executor.Category]string{
	executor.CategoryCompliance:     "Compliance",
	executor.CategoryInfrastructure: "Infrastructure",
	executor.CategoryDeployment:     "Deployment",
	executor.CategoryEnvironment:    "Environment",
	executor.CategoryDiscovery:      "Discovery",
	executor.CategoryCostManagement: "Cost Management",
	executor.CategoryKnowledge:      "Knowledge",
}

func sectionLabel(c executor.Category) string {
	if l, ok := sectionLabels[c]; ok {
		return l
	}
	return string(c)
}
