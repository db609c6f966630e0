// Package tweets picks which card to post to the social feed next and posts
// it on a schedule.
package tweets

import (
	"math"
	"sync"
	"time"

	"github.com/starford/compendium/internal/checksum"
	"github.com/starford/compendium/internal/models"
)

// MinScore marks a card as ineligible.
const MinScore = -math.MaxFloat64

const (
	sectionStep           = 0.20
	sectionOffset         = 2
	recencyWindow         = 7 * 24 * time.Hour
	minRecencyDays        = 1.0 / 24
	unpublishedLinkFactor = -0.20
)

// Adjust applies a sign-aware multiplicative twiddle. A positive amount always
// makes value more eligible and a negative amount less eligible, whatever the
// sign of value. A negative value never changes sign: a boost shrinks it
// toward zero by 1/(1+amount), so large boosts keep the score order.
func Adjust(value, amount float64) float64 {
	switch {
	case value >= 0:
		return value * (1 + amount)
	case amount > 0:
		return value / (1 + amount)
	default:
		return value * (1 - amount)
	}
}

// Inputs is everything Score needs beyond the card itself.
type Inputs struct {
	// SectionIDs lists sections in display order.
	SectionIDs []string
	// Cards holds every card by id, for resolving link targets.
	Cards map[string]*models.Card
	Now   time.Time
}

// Score rates how desirable card is to post next. Higher is better; MinScore
// means never. cache may be nil.
func Score(card *models.Card, in Inputs, cache *TwiddleCache) float64 {
	if !card.Published || len(card.Slugs) == 0 || card.CardType != models.CardTypeContent {
		return MinScore
	}

	value := float64(epochSeconds(card.UpdatedSubstantive) - epochSeconds(card.LastTweeted))

	var twiddles map[string]float64
	if cache != nil {
		twiddles = cache.Twiddles(in.SectionIDs)
	} else {
		twiddles = SectionTwiddles(in.SectionIDs)
	}
	if m, ok := twiddles[card.Section]; ok {
		value = Adjust(value, m-1)
	}

	value = Adjust(value, -math.Log10(float64(card.TweetCount)+1)/3)
	value = Adjust(value, math.Log10(float64(card.StarCount)+1)/2)

	if !card.UpdatedSubstantive.IsZero() {
		since := in.Now.Sub(card.UpdatedSubstantive)
		if since < recencyWindow {
			days := max(since.Hours()/24, minRecencyDays)
			value = Adjust(value, 2/math.Pow(days, 1.4))
		}
	}

	if mostlyUnpublishedLinks(card, in.Cards) {
		value = Adjust(value, unpublishedLinkFactor)
	}
	return value
}

func epochSeconds(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func mostlyUnpublishedLinks(card *models.Card, cards map[string]*models.Card) bool {
	if len(card.Links) == 0 {
		return true
	}
	published := 0
	for _, id := range card.Links {
		if target, ok := cards[id]; ok && target.Published {
			published++
		}
	}
	return published*2 < len(card.Links)
}

// SectionTwiddles returns the multiplier of each section. The first section
// gets 1.0; the others grow by sectionStep per step of distance from the end,
// offset by two steps.
func SectionTwiddles(sectionIDs []string) map[string]float64 {
	out := make(map[string]float64, len(sectionIDs))
	for i, id := range sectionIDs {
		if i == 0 {
			out[id] = 1.0
			continue
		}
		distanceFromEnd := len(sectionIDs) - i
		out[id] = 1 + sectionStep*float64(distanceFromEnd-sectionOffset)
	}
	return out
}

// TwiddleCache memoizes SectionTwiddles by a digest of the section order.
type TwiddleCache struct {
	mu      sync.Mutex
	entries map[string]map[string]float64
}

// NewTwiddleCache creates an empty cache.
func NewTwiddleCache() *TwiddleCache {
	return &TwiddleCache{entries: make(map[string]map[string]float64)}
}

// Twiddles returns the (possibly cached) multipliers for sectionIDs. The
// returned map must not be modified.
func (c *TwiddleCache) Twiddles(sectionIDs []string) map[string]float64 {
	key := checksum.Strings(sectionIDs...)
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.entries[key]; ok {
		return m
	}
	m := SectionTwiddles(sectionIDs)
	c.entries[key] = m
	return m
}

// Len returns the number of cached section orders.
func (c *TwiddleCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Ranked is a card with its score.
type Ranked struct {
	Card  *models.Card
	Score float64
}

// Best returns the highest-scoring eligible card, or false when none is
// eligible.
func Best(in Inputs, cache *TwiddleCache) (Ranked, bool) {
	var best Ranked
	found := false
	for _, card := range in.Cards {
		s := Score(card, in, cache)
		if s == MinScore {
			continue
		}
		if !found || s > best.Score || (s == best.Score && card.ID < best.Card.ID) {
			best = Ranked{Card: card, Score: s}
			found = true
		}
	}
	return best, found
}
