// Package mcpserver exposes compendium cards to LLM clients over the Model
// Context Protocol (stdio transport).
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/compendium/internal/cardservice"
	"github.com/starford/compendium/internal/embedding"
	"github.com/starford/compendium/internal/index"
	"github.com/starford/compendium/internal/models"
)

const defaultLimit = 10

// Server wraps the MCP server with compendium tools.
type Server struct {
	mcp        *server.MCPServer
	cards      *cardservice.Service
	embeddings *embedding.Pipeline
	keywords   index.Searcher
	markdown   *md.Converter
}

// New creates the MCP server. When embeddings is nil, search_cards falls
// back to keyword search and similar_cards reports an error.
func New(cards *cardservice.Service, embeddings *embedding.Pipeline, keywords index.Searcher, version string) *Server {
	s := &Server{cards: cards, embeddings: embeddings, keywords: keywords, markdown: newConverter()}

	s.mcp = server.NewMCPServer(
		"Compendium",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("search_cards",
		mcp.WithDescription("Search card content. Returns card ids, titles and scores (semantic) or snippets (keyword)."),
		mcp.WithString("query", mcp.Required(), mcp.Description("What to look for, in natural language")),
		mcp.WithNumber("limit", mcp.Description("Maximum results (default 10)")),
	), s.searchCards)

	s.mcp.AddTool(mcp.NewTool("read_card",
		mcp.WithDescription("Read a card as Markdown. Links to other cards appear as [[id|label]]."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Card id or slug")),
	), s.readCard)

	s.mcp.AddTool(mcp.NewTool("list_cards",
		mcp.WithDescription("List cards as id and title, optionally within one section."),
		mcp.WithString("section", mcp.Description("Optional section id")),
	), s.listCards)

	s.mcp.AddTool(mcp.NewTool("get_inbound_links",
		mcp.WithDescription("List the ids of cards that link to the given card."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Card id")),
	), s.getInboundLinks)

	s.mcp.AddTool(mcp.NewTool("similar_cards",
		mcp.WithDescription("Cards whose content is semantically closest to the given card."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Card id")),
		mcp.WithNumber("limit", mcp.Description("Maximum results (default 10)")),
	), s.similarCards)

	s.mcp.AddResource(
		mcp.NewResource(CardFormatURI, "Card Format",
			mcp.WithResourceDescription("How cards, links and seed fixtures are structured."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readCardFormat,
	)

	return s
}

// newConverter renders card-link elements as [[id|label]].
func newConverter() *md.Converter {
	conv := md.NewConverter("", true, nil)
	conv.AddRules(md.Rule{
		Filter: []string{"card-link"},
		Replacement: func(content string, sel *goquery.Selection, _ *md.Options) *string {
			id := sel.AttrOr("card", "")
			label := strings.TrimSpace(content)
			if label == "" || label == id {
				return md.String("[[" + id + "]]")
			}
			return md.String("[[" + id + "|" + label + "]]")
		},
	})
	return conv
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// Markdown renders card as a Markdown document.
func (s *Server) Markdown(card *models.Card) (string, error) {
	body, err := s.markdown.ConvertString(card.Body)
	if err != nil {
		return "", fmt.Errorf("mcpserver: convert %s: %w", card.ID, err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", card.Title)
	if card.Subtitle != "" {
		fmt.Fprintf(&b, "_%s_\n\n", card.Subtitle)
	}
	fmt.Fprintf(&b, "id: %s | type: %s | section: %s | published: %t\n\n", card.ID, card.CardType, card.Section, card.Published)
	if body != "" {
		b.WriteString(body)
		b.WriteString("\n")
	}
	return b.String(), nil
}

type searchHit struct {
	ID    string  `json:"id"`
	Title string  `json:"title"`
	Score float64 `json:"score"`
}

func (s *Server) hits(ctx context.Context, matches []embedding.Match) []searchHit {
	out := make([]searchHit, 0, len(matches))
	for _, m := range matches {
		hit := searchHit{ID: m.CardID, Score: m.Score}
		if card, err := s.cards.GetCard(ctx, m.CardID); err == nil {
			hit.Title = card.Title
		}
		out = append(out, hit)
	}
	return out
}

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

func (s *Server) searchCards(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	limit := req.GetInt("limit", defaultLimit)
	if s.embeddings == nil {
		if s.keywords == nil {
			return mcp.NewToolResultError("search is not configured"), nil
		}
		results, err := s.keywords.Search(ctx, query, limit, false)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(results), nil
	}
	matches, err := s.embeddings.Search(ctx, query, limit)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(s.hits(ctx, matches)), nil
}

func (s *Server) readCard(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	card, err := s.cards.GetCard(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id)), nil
	}
	text, err := s.Markdown(card)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) listCards(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	items, err := s.cards.ListCards(ctx, req.GetString("section", ""), false)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(items) == 0 {
		return mcp.NewToolResultText("no cards found"), nil
	}
	lines := make([]string, len(items))
	for i, c := range items {
		lines[i] = c.ID + "\t" + c.Title
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) getInboundLinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	links, err := s.cards.InboundLinks(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id)), nil
	}
	if len(links) == 0 {
		return mcp.NewToolResultText("no inbound links found"), nil
	}
	return mcp.NewToolResultText(strings.Join(links, "\n")), nil
}

func (s *Server) similarCards(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if s.embeddings == nil {
		return mcp.NewToolResultError("semantic search is not configured"), nil
	}
	matches, err := s.embeddings.Similar(ctx, id, req.GetInt("limit", defaultLimit))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(s.hits(ctx, matches)), nil
}

func (s *Server) readCardFormat(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      CardFormatURI,
			MIMEType: "text/markdown",
			Text:     CardFormatContract,
		},
	}, nil
}
