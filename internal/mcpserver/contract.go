package mcpserver

// CardFormatURI is the resource describing card content.
const CardFormatURI = "compendium://card-format"

// CardFormatContract describes how cards are structured, for LLM clients
// reading cards or writing seed fixtures.
const CardFormatContract = `# Compendium Card Format

A card is one unit of the compendium. Cards link to each other and the
server keeps the reverse links (links_inbound) up to date.

## Fields

- id: stable identifier (letters, digits, dash, underscore)
- card_type: content, working-notes, section-head, concept, work or person
- title, subtitle: plain text
- body: sanitized HTML
- section: id of the section the card belongs to
- published: only published cards are public
- slugs: human-readable aliases; lowercase letters, digits and single
  dashes, not starting or ending with a dash, at most 128 characters.
  The first slug becomes the card's name.

## Links

Inside the body, a reference to another card is written as

    <card-link card="other-card-id">label</card-link>

read_card renders these as [[other-card-id|label]].

## Seed fixtures

Fixture files end in .md and start with YAML frontmatter:

    ---
    id: how-to-write
    card_type: content
    title: How to write
    section: basics
    published: true
    slugs:
      - how-to-write
    ---
    <p>Start with [[basics|the basics]].</p>

[[target]] and [[target|label]] become card-link elements. A missing id
defaults to the file name; a missing title defaults to the id.
`
