// Package retrieval assembles the auxiliary context the orchestrator hands
// to the model: similar historical messages, relevant ledger codes, and
// recent transaction summaries.
package retrieval

import (
	"context"
	"fmt"
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/ledgerworks/choubo/internal/models"
)

// Indexed entry kinds.
const (
	kindMessage    = "message"
	kindLedgerCode = "ledger_code"
)

type indexEntry struct {
	Kind    string `json:"kind"`
	UserID  string `json:"user_id"`
	Content string `json:"content"`
}

// Index is a keyword index over chat messages and the chart of accounts,
// used to pull likely-relevant snippets into the prompt.
type Index struct {
	index bleve.Index
}

// NewIndex creates or opens the retrieval index at path.
func NewIndex(path string) (*Index, error) {
	im := bleve.NewIndexMapping()

	entryMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer: lowercase + tokenize, no stemming, so account
	// terminology matches literally.
	textFieldMapping.Analyzer = standard.Name
	textFieldMapping.Store = true
	entryMapping.AddFieldMappingsAt("content", textFieldMapping)
	keywordFieldMapping := bleve.NewKeywordFieldMapping()
	entryMapping.AddFieldMappingsAt("kind", keywordFieldMapping)
	entryMapping.AddFieldMappingsAt("user_id", keywordFieldMapping)
	im.DefaultMapping = entryMapping

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open retrieval index: %w", openErr)
		}
		return &Index{index: index}, nil
	}
	index, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("failed to create retrieval index: %w", err)
	}
	return &Index{index: index}, nil
}

// IndexMessage adds one chat message to the index.
func (i *Index) IndexMessage(msg *models.Message) error {
	return i.index.Index("msg:"+msg.ID, indexEntry{
		Kind:    kindMessage,
		UserID:  msg.UserID,
		Content: msg.Content,
	})
}

// IndexLedgerCode adds one chart-of-accounts entry to the index.
func (i *Index) IndexLedgerCode(code *models.LedgerCode) error {
	return i.index.Index("lc:"+code.Code, indexEntry{
		Kind:    kindLedgerCode,
		Content: fmt.Sprintf("%s %s", code.Code, code.Description),
	})
}

// SimilarMessages returns the content of up to limit of the user's past
// messages that best match query.
func (i *Index) SimilarMessages(ctx context.Context, userID, query string, limit int) ([]string, error) {
	userQuery := bleve.NewTermQuery(userID)
	userQuery.SetField("user_id")
	return i.search(ctx, query, kindMessage, limit, userQuery)
}

// MatchLedgerCodes returns up to limit chart-of-accounts snippets matching
// query.
func (i *Index) MatchLedgerCodes(ctx context.Context, query string, limit int) ([]string, error) {
	return i.search(ctx, query, kindLedgerCode, limit, nil)
}

func (i *Index) search(ctx context.Context, query, kind string, limit int, extra blevequery.Query) ([]string, error) {
	if query == "" || limit <= 0 {
		return nil, nil
	}
	match := bleve.NewMatchQuery(query)
	match.SetField("content")
	kindQuery := bleve.NewTermQuery(kind)
	kindQuery.SetField("kind")

	conj := []blevequery.Query{match, kindQuery}
	if extra != nil {
		conj = append(conj, extra)
	}
	req := bleve.NewSearchRequestOptions(bleve.NewConjunctionQuery(conj...), limit, 0, false)
	req.Fields = []string{"content"}

	res, err := i.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("retrieval search: %w", err)
	}
	var out []string
	for _, hit := range res.Hits {
		if content, ok := hit.Fields["content"].(string); ok && content != "" {
			out = append(out, content)
		}
	}
	return out, nil
}

// Close closes the underlying index.
func (i *Index) Close() error {
	return i.index.Close()
}
