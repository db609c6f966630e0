package embedding

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/starford/compendium/internal/models"
)

// inertSelector matches elements whose contents are markup, not prose.
const inertSelector = "script, style, template, noscript"

// HTMLText returns the visible text of an HTML fragment.
func HTMLText(body string) (string, error) {
	if strings.TrimSpace(body) == "" {
		return "", nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse body: %w", err)
	}
	doc.Find(inertSelector).Remove()
	return strings.TrimSpace(doc.Text()), nil
}

// ExtractText returns the text embedded for card. Only content and
// working-notes cards produce text.
func ExtractText(card *models.Card) (string, error) {
	switch card.CardType {
	case models.CardTypeContent, models.CardTypeWorkingNotes:
	default:
		return "", nil
	}
	body, err := HTMLText(card.Body)
	if err != nil {
		return "", fmt.Errorf("embedding: card %s: %w", card.ID, err)
	}
	title := strings.TrimSpace(card.Title)
	if title == "" {
		return body, nil
	}
	return title + "\n" + body, nil
}
