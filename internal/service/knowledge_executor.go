package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	cfotel "github.com/matross-gh/platform-engineering-copilot/internal/adapter/otel"
	"github.com/matross-gh/platform-engineering-copilot/internal/config"
	"github.com/matross-gh/platform-engineering-copilot/internal/domain/conversation"
	"github.com/matross-gh/platform-engineering-copilot/internal/domain/executor"
	"github.com/matross-gh/platform-engineering-copilot/internal/port/oracle"
)

const knowledgeSystemPrompt = `You are a platform engineering assistant for government cloud environments.
Answer the user's question directly and concisely. When the question needs live data from
their subscription, say which command or request would retrieve it instead of guessing.`

// KnowledgeExecutor answers general platform questions with the completion
// service. It backs the knowledge category when no remote executor is
// configured for it.
type KnowledgeExecutor struct {
	oracle    oracle.Oracle
	model     string
	maxTokens int
	history   int
}

// NewKnowledgeExecutor creates a knowledge executor using the synthesis model.
func NewKnowledgeExecutor(o oracle.Oracle, cfg config.Orchestrator) *KnowledgeExecutor {
	return &KnowledgeExecutor{
		oracle:    o,
		model:     cfg.SynthesisModel,
		maxTokens: cfg.SynthesisMaxTokens,
		history:   cfg.HistoryWindow,
	}
}

// Category returns executor.CategoryKnowledge.
func (k *KnowledgeExecutor) Category() executor.Category { return executor.CategoryKnowledge }

// Process answers task.Description, with recent conversation turns and any
// refinement feedback as context.
func (k *KnowledgeExecutor) Process(ctx context.Context, task executor.Task, shared *conversation.Context) executor.Result {
	start := time.Now()

	var b strings.Builder
	if shared != nil {
		for _, m := range shared.RecentMessages(k.history) {
			fmt.Fprintf(&b, "%s> %s\n", m.Role, sanitizePromptInput(m.Content))
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
	}
	if task.Feedback != "" {
		fmt.Fprintf(&b, "Reviewer feedback on the previous answer:\n%s\n\n", sanitizePromptInput(task.Feedback))
	}
	fmt.Fprintf(&b, "Question:\n<<<\n%s\n>>>", sanitizePromptInput(task.Description))

	ctx, span := cfotel.StartOracleSpan(ctx, "knowledge", k.model)
	text, err := k.oracle.Complete(ctx, oracle.Request{
		Model:       k.model,
		System:      knowledgeSystemPrompt,
		Prompt:      b.String(),
		MaxTokens:   k.maxTokens,
		Temperature: 0.3,
	})
	cfotel.EndSpan(span, err)
	if err != nil {
		return executor.Failure(task, fmt.Sprintf("knowledge lookup failed: %v", err), time.Since(start))
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return executor.Failure(task, "knowledge lookup returned no answer", time.Since(start))
	}
	return executor.Result{
		TaskID:   task.ID,
		Category: executor.CategoryKnowledge,
		Content:  text,
		Success:  true,
		Elapsed:  time.Since(start),
		Round:    task.Round,
	}
}
