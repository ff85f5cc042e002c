// Package search implements the content-addressable full-text index
// over Message.data: the FTS5 write-through hooks GraphStore calls on
// every message upsert and chat delete, and the ranked searchMessages
// query. Ranking and MATCH syntax are grounded on the teacher's
// internal/services/retrieval fullTextSearch (bm25(table) ascending,
// FTS5 MATCH) generalized from a document index to message content,
// scoped per-chat, with CJK/pinyin pre-tokenization from internal/fts.
package search

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/uptrace/bun"

	"convostore/graph"
	"convostore/internal/errs"
	"convostore/internal/fts"
	"convostore/internal/sqlitestore"
)

// SearchResult is one ranked hit.
type SearchResult struct {
	Message graph.Message
	Rank    float64
	Snippet string
}

// QueryOptions parameterizes searchMessages.
type QueryOptions struct {
	Roles []string
	Limit int
}

// Index is the search layer. It implements graph.SearchIndexer so a
// graph.Store can write through to it inside the same transaction.
type Index struct {
	db *sqlitestore.Store
}

// New builds an Index over the shared store.
func New(db *sqlitestore.Store) *Index {
	return &Index{db: db}
}

type ftsRow struct {
	bun.BaseModel `bun:"table:messages_fts"`

	MessageID string `bun:"message_id"`
	ChatID    string `bun:"chat_id"`
	Name      string `bun:"name"`
	Content   string `bun:"content"`
}

// Index deletes any prior entry for messageID and inserts a fresh one,
// content pre-tokenized for CJK/pinyin matching.
func (idx *Index) Index(ctx context.Context, tx bun.Tx, messageID, chatID, name, content string) error {
	if _, err := tx.NewDelete().Model((*ftsRow)(nil)).Where("message_id = ?", messageID).Exec(ctx); err != nil {
		return err
	}
	row := &ftsRow{MessageID: messageID, ChatID: chatID, Name: name, Content: fts.TokenizeContent(content)}
	_, err := tx.NewInsert().Model(row).Exec(ctx)
	return err
}

// DeleteMessage removes a single message's search entry.
func (idx *Index) DeleteMessage(ctx context.Context, tx bun.Tx, messageID string) error {
	_, err := tx.NewDelete().Model((*ftsRow)(nil)).Where("message_id = ?", messageID).Exec(ctx)
	return err
}

// DeleteChat removes every search entry belonging to chatID.
func (idx *Index) DeleteChat(ctx context.Context, tx bun.Tx, chatID string) error {
	_, err := tx.NewDelete().Model((*ftsRow)(nil)).Where("chat_id = ?", chatID).Exec(ctx)
	return err
}

const defaultLimit = 20
const snippetMaxTokens = 32

// SearchMessages runs a scoped full-text query against a single
// chat's messages, returning results ordered by ascending rank (lower
// = more relevant, bm25 semantics).
func (idx *Index) SearchMessages(ctx context.Context, chatID, query string, opts QueryOptions) ([]SearchResult, error) {
	matchQuery := buildQuery(query)
	if matchQuery == "" {
		return nil, errs.Validation("search query must not be empty")
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	type hit struct {
		MessageID string  `bun:"message_id"`
		Name      string  `bun:"name"`
		Content   string  `bun:"content"`
		Rank      float64 `bun:"rank"`
	}
	var hits []hit

	q := idx.db.Read().NewSelect().
		TableExpr("messages_fts").
		ColumnExpr("message_id, name, content, bm25(messages_fts) AS rank").
		Where("messages_fts MATCH ?", matchQuery).
		Where("chat_id = ?", chatID)
	if len(opts.Roles) > 0 {
		q = q.Where("name IN (?)", bun.In(opts.Roles))
	}
	q = q.OrderExpr("rank ASC").Limit(limit)

	if err := q.Scan(ctx, &hits); err != nil {
		return nil, errs.Storage("search messages", err)
	}

	out := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		var msgModel struct {
			bun.BaseModel `bun:"table:messages"`
			ID            string `bun:"id"`
			ChatID        string `bun:"chat_id"`
			ParentID      string `bun:"parent_id"`
			Name          string `bun:"name"`
			Type          string `bun:"type"`
			Data          string `bun:"data"`
			CreatedAt     int64  `bun:"created_at"`
		}
		if err := idx.db.Read().NewSelect().Model(&msgModel).Where("id = ?", h.MessageID).Limit(1).Scan(ctx); err != nil {
			continue
		}
		msg, err := graph.DecodeMessageRow(msgModel.ID, msgModel.ChatID, msgModel.ParentID, msgModel.Name, msgModel.Type, msgModel.Data, msgModel.CreatedAt)
		if err != nil {
			continue
		}
		out = append(out, SearchResult{
			Message: msg,
			Rank:    h.Rank,
			Snippet: buildSnippet(h.Content, query),
		})
	}
	return out, nil
}

// buildQuery passes explicit FTS5 syntax through verbatim and
// tokenizes plain keyword input for CJK/pinyin convenience matching.
func buildQuery(query string) string {
	if fts.HasFTS5Syntax(query) {
		return query
	}
	return fts.BuildMatchQuery(query)
}

// buildSnippet highlights matched terms with <mark>…</mark> and bounds
// the result to snippetMaxTokens space-separated tokens around the
// first hit.
func buildSnippet(tokenizedContent, rawQuery string) string {
	terms := queryTerms(rawQuery)
	tokens := strings.Fields(tokenizedContent)
	if len(tokens) == 0 {
		return ""
	}

	hitIdx := -1
	for i, tok := range tokens {
		for _, term := range terms {
			if term != "" && strings.HasPrefix(tok, term) {
				hitIdx = i
				break
			}
		}
		if hitIdx >= 0 {
			break
		}
	}
	if hitIdx < 0 {
		hitIdx = 0
	}

	start := hitIdx - snippetMaxTokens/2
	if start < 0 {
		start = 0
	}
	end := start + snippetMaxTokens
	if end > len(tokens) {
		end = len(tokens)
	}

	var b strings.Builder
	for i := start; i < end; i++ {
		if i > start {
			b.WriteByte(' ')
		}
		marked := false
		for _, term := range terms {
			if term != "" && strings.HasPrefix(tokens[i], term) {
				marked = true
				break
			}
		}
		if marked {
			b.WriteString("<mark>")
			b.WriteString(tokens[i])
			b.WriteString("</mark>")
		} else {
			b.WriteString(tokens[i])
		}
	}
	return b.String()
}

func queryTerms(query string) []string {
	query = strings.ToLower(query)
	query = strings.Map(func(r rune) rune {
		switch r {
		case '"', '*', '(', ')', ':':
			return -1
		default:
			return r
		}
	}, query)
	fields := strings.Fields(query)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		switch strings.ToUpper(f) {
		case "AND", "OR", "NOT":
			continue
		}
		if utf8.RuneCountInString(f) == 0 {
			continue
		}
		out = append(out, f)
	}
	return out
}
