// Package chat runs the conversational pipeline: assemble context from the
// user's documents and history, hand the conversation to a language model
// with the excelOperation tool attached, execute whatever workbook mutation
// the model requests, and persist both turns.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ledgerworks/choubo/internal/extract"
	"github.com/ledgerworks/choubo/internal/llm"
	"github.com/ledgerworks/choubo/internal/models"
	"github.com/ledgerworks/choubo/internal/reconcile"
	"github.com/ledgerworks/choubo/internal/retrieval"
	"github.com/ledgerworks/choubo/internal/storage"
	"github.com/ledgerworks/choubo/internal/workbook"
)

// ErrBadRequest marks a request the caller can fix. The server maps it to a
// 400 instead of a 500.
var ErrBadRequest = errors.New("invalid chat request")

// maxToolRounds bounds how many times the model may call the tool in one
// request before the last tool outcome is returned as the reply.
const maxToolRounds = 4

const systemPromptHeader = `You are an accounting assistant. You help the user read, create, and edit Excel spreadsheets that hold their bookkeeping data.

When the user asks you to create or change a spreadsheet, call the excelOperation tool. Never describe a spreadsheet change without performing it. When a tool call reports success=false, explain the problem to the user in plain language and do not pretend the change happened.

Amounts are decimal currency values. Keep ledger codes exactly as given.`

// DocumentRef points the orchestrator at an uploaded blob whose text should
// ride into the prompt.
type DocumentRef struct {
	StoragePath string `json:"storagePath"`
	ContentType string `json:"contentType,omitempty"`
	Name        string `json:"name,omitempty"`
}

// IncomingMessage is one turn of the conversation as sent by the client.
type IncomingMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the body of a chat call. ChatID identifies the conversation and
// doubles as the default edit target when the model omits a fileName.
type Request struct {
	ChatID              string            `json:"chatId"`
	Messages            []IncomingMessage `json:"messages"`
	DocumentContext     *DocumentRef      `json:"documentContext,omitempty"`
	AdditionalDocuments []DocumentRef     `json:"additionalDocuments,omitempty"`
	ActiveSheetName     string            `json:"activeSheetName,omitempty"`
}

// Reply is the assistant's answer plus the outcome of the last tool round,
// if any. A success=false outcome still arrives with a nil error; transport
// errors are reserved for the pipeline itself failing.
type Reply struct {
	Content    string       `json:"reply"`
	ToolResult *ToolOutcome `json:"toolResult,omitempty"`
}

// Limits bounds how much retrieved context is packed into the prompt.
type Limits struct {
	SimilarMessages    int
	LedgerCodes        int
	RecentTransactions int
}

// Orchestrator wires the pipeline together. All collaborators are injected;
// nothing here reaches for a global client.
type Orchestrator struct {
	store      storage.Store
	blobs      *storage.BlobStore
	mutator    *workbook.Mutator
	reconciler *reconcile.Reconciler
	index      *retrieval.Index
	extractor  *extract.Extractor
	llm        llm.Client
	model      string
	limits     Limits
	logger     *zap.Logger
}

func New(store storage.Store, blobs *storage.BlobStore, mutator *workbook.Mutator,
	reconciler *reconcile.Reconciler, index *retrieval.Index, extractor *extract.Extractor,
	client llm.Client, model string, limits Limits, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		store:      store,
		blobs:      blobs,
		mutator:    mutator,
		reconciler: reconciler,
		index:      index,
		extractor:  extractor,
		llm:        client,
		model:      model,
		limits:     limits,
		logger:     logger,
	}
}

// Handle runs one chat turn for userID and returns the assistant's reply.
func (o *Orchestrator) Handle(ctx context.Context, userID string, req *Request) (*Reply, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("%w: messages must not be empty", ErrBadRequest)
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != models.RoleUser {
		return nil, fmt.Errorf("%w: last message must be from the user", ErrBadRequest)
	}

	system := o.buildSystemPrompt(ctx, userID, req, last.Content)

	messages := make([]llm.ChatMessage, 0, len(req.Messages)+1)
	messages = append(messages, llm.ChatMessage{Role: "system", Content: system})
	for _, m := range req.Messages {
		messages = append(messages, llm.ChatMessage{Role: m.Role, Content: m.Content})
	}

	tools := []llm.Tool{excelOperationTool()}
	var outcome *ToolOutcome
	var final string

	for round := 0; round < maxToolRounds; round++ {
		resp, err := o.llm.ChatWithTools(ctx, o.model, messages, tools)
		if err != nil {
			return nil, fmt.Errorf("language model: %w", err)
		}
		if len(resp.ToolCalls) == 0 {
			final = resp.Content
			break
		}

		messages = append(messages, llm.ChatMessage{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			var out ToolOutcome
			if call.Function.Name == toolName {
				out = o.executeTool(ctx, userID, call.Function.Arguments, req)
			} else {
				out = ToolOutcome{Message: fmt.Sprintf("Unknown tool %q.", call.Function.Name)}
			}
			outcome = &out

			payload, err := json.Marshal(out)
			if err != nil {
				return nil, fmt.Errorf("encode tool result: %w", err)
			}
			messages = append(messages, llm.ChatMessage{
				Role:       "tool",
				ToolCallID: call.ID,
				Content:    string(payload),
			})
			o.logger.Debug("tool round",
				zap.String("user_id", userID),
				zap.Bool("success", out.Success),
				zap.String("document_id", out.DocumentID))
		}
	}

	// The model may burn every round on tool calls without closing text.
	if final == "" && outcome != nil {
		final = outcome.Message
	}

	o.persistTurn(ctx, userID, req.ChatID, last.Content, final)
	return &Reply{Content: final, ToolResult: outcome}, nil
}

// buildSystemPrompt assembles the retrieval context. Every section is best
// effort: a failed lookup is logged and skipped, never fatal to the turn.
func (o *Orchestrator) buildSystemPrompt(ctx context.Context, userID string, req *Request, query string) string {
	var b strings.Builder
	b.WriteString(systemPromptHeader)

	if req.ActiveSheetName != "" {
		fmt.Fprintf(&b, "\n\nThe user is currently looking at the sheet %q.", req.ActiveSheetName)
	}

	if req.DocumentContext != nil {
		if text, ok := o.extractDocument(ctx, userID, *req.DocumentContext); ok {
			b.WriteString("\n\n## Current document\n\n")
			b.WriteString(text)
		}
	}
	for _, ref := range req.AdditionalDocuments {
		if text, ok := o.extractDocument(ctx, userID, ref); ok {
			name := ref.Name
			if name == "" {
				name = ref.StoragePath
			}
			fmt.Fprintf(&b, "\n\n## Attached document: %s\n\n%s", name, text)
		}
	}

	if o.index != nil {
		if similar, err := o.index.SimilarMessages(ctx, userID, query, o.limits.SimilarMessages); err != nil {
			o.logger.Warn("similar message lookup", zap.Error(err))
		} else if len(similar) > 0 {
			b.WriteString("\n\n## Related earlier conversation\n")
			for _, s := range similar {
				b.WriteString("\n- ")
				b.WriteString(s)
			}
		}
		if codes, err := o.index.MatchLedgerCodes(ctx, query, o.limits.LedgerCodes); err != nil {
			o.logger.Warn("ledger code lookup", zap.Error(err))
		} else if len(codes) > 0 {
			b.WriteString("\n\n## Possibly relevant ledger codes\n")
			for _, c := range codes {
				b.WriteString("\n- ")
				b.WriteString(c)
			}
		}
	}

	if o.limits.RecentTransactions > 0 {
		if summary, err := retrieval.SummarizeRecentTransactions(ctx, o.store, userID, o.limits.RecentTransactions); err != nil {
			o.logger.Warn("transaction summary", zap.Error(err))
		} else if summary != "" {
			b.WriteString("\n\n## Recent transactions\n\n")
			b.WriteString(summary)
		}
	}

	return b.String()
}

// extractDocument downloads the blob at ref and extracts its text. The blob
// path must belong to the calling user; anything else is treated the same as
// a missing file.
func (o *Orchestrator) extractDocument(ctx context.Context, userID string, ref DocumentRef) (string, bool) {
	if !strings.HasPrefix(ref.StoragePath, "users/"+userID+"/") {
		o.logger.Warn("document context outside user scope",
			zap.String("user_id", userID), zap.String("path", ref.StoragePath))
		return "", false
	}
	data, _, err := o.blobs.Get(ref.StoragePath)
	if err != nil {
		o.logger.Warn("document context download",
			zap.String("path", ref.StoragePath), zap.Error(err))
		return "", false
	}
	text, err := o.extractor.ExtractBytes(data, ref.StoragePath, ref.ContentType)
	if err != nil {
		o.logger.Warn("document context extraction",
			zap.String("path", ref.StoragePath), zap.Error(err))
		return "", false
	}
	return text, true
}

// persistTurn stores the user message and the assistant reply and feeds both
// to the similarity index. Insert order within the turn is preserved by the
// store. Persistence failures do not fail the turn; the reply already
// happened.
func (o *Orchestrator) persistTurn(ctx context.Context, userID, chatID, userText, assistantText string) {
	now := time.Now().UTC()
	turns := []*models.Message{
		{ID: uuid.NewString(), ChatID: chatID, UserID: userID, Role: models.RoleUser, Content: userText, CreatedAt: now},
		{ID: uuid.NewString(), ChatID: chatID, UserID: userID, Role: models.RoleAssistant, Content: assistantText, CreatedAt: now},
	}
	for _, msg := range turns {
		if msg.Content == "" {
			continue
		}
		if err := o.store.CreateMessage(ctx, msg); err != nil {
			o.logger.Error("persist message",
				zap.String("chat_id", chatID), zap.String("role", msg.Role), zap.Error(err))
			continue
		}
		if o.index != nil {
			if err := o.index.IndexMessage(msg); err != nil {
				o.logger.Warn("index message", zap.String("id", msg.ID), zap.Error(err))
			}
		}
	}
}
