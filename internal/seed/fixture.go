// Package seed loads Markdown card fixtures from a directory into the store
// and keeps them in sync while the files change.
package seed

import (
	"bytes"
	"fmt"
	"html"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/starford/compendium/internal/models"
)

var (
	wikilinkRe = regexp.MustCompile(`\[\[(.*?)\]\]`)
	idCleanRe  = regexp.MustCompile(`[^a-z0-9_-]+`)
)

// Fixture is one parsed card file.
type Fixture struct {
	ID        string          `yaml:"id"`
	CardType  models.CardType `yaml:"card_type"`
	Title     string          `yaml:"title"`
	Subtitle  string          `yaml:"subtitle"`
	Section   string          `yaml:"section"`
	Published bool            `yaml:"published"`
	Slugs     []string        `yaml:"slugs"`
	Body      string          `yaml:"-"`
}

// Parse reads a fixture. The YAML frontmatter between leading --- lines is
// optional; the id defaults to the file name and the title to the id.
func Parse(path string, data []byte) (*Fixture, error) {
	fm, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, fmt.Errorf("seed: %s: %w", path, err)
	}
	f := &Fixture{}
	if fm != nil {
		if err := yaml.Unmarshal(fm, f); err != nil {
			return nil, fmt.Errorf("seed: %s: frontmatter: %w", path, err)
		}
	}
	if f.ID == "" {
		f.ID = idFromPath(path)
	}
	if f.CardType == "" {
		f.CardType = models.CardTypeContent
	}
	if f.Title == "" {
		f.Title = f.ID
	}
	f.Body = ExpandLinks(strings.TrimSpace(body))
	return f, nil
}

// splitFrontmatter separates the YAML block from the body. A file without a
// closing delimiter is all body.
func splitFrontmatter(data []byte) ([]byte, string, error) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")
	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data), nil
	}
	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, string(data), nil
	}
	body := strings.TrimLeft(string(rest[idx+1+len(delim):]), "\n\r")
	return rest[:idx], body, nil
}

// ExpandLinks rewrites [[target]] and [[target|label]] into card-link
// elements.
func ExpandLinks(body string) string {
	return wikilinkRe.ReplaceAllStringFunc(body, func(m string) string {
		raw := wikilinkRe.FindStringSubmatch(m)[1]
		target, label, found := strings.Cut(raw, "|")
		target = strings.TrimSpace(target)
		if target == "" {
			return m
		}
		label = strings.TrimSpace(label)
		if !found || label == "" {
			label = target
		}
		return fmt.Sprintf(`<card-link card="%s">%s</card-link>`, html.EscapeString(target), html.EscapeString(label))
	})
}

func idFromPath(path string) string {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return strings.Trim(idCleanRe.ReplaceAllString(strings.ToLower(name), "-"), "-")
}
