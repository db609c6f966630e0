package tweets

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/starford/compendium/internal/docstore"
	"github.com/starford/compendium/internal/metrics"
	"github.com/starford/compendium/internal/models"
)

// engagementWindow bounds which tweets RefreshEngagement revisits.
const engagementWindow = 7 * 24 * time.Hour

// Service ranks cards and posts the best one.
type Service struct {
	store   *docstore.Store
	poster  Poster
	cache   *TwiddleCache
	baseURL string
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewService creates a Service. baseURL is the public site used in post links.
func NewService(store *docstore.Store, poster Poster, baseURL string, logger *slog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		store:   store,
		poster:  poster,
		cache:   NewTwiddleCache(),
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// Inputs loads the section order and every card.
func (s *Service) Inputs(ctx context.Context) (Inputs, error) {
	sections, err := docstore.QueryAs[models.Section](ctx, s.store, models.CollectionSections)
	if err != nil {
		return Inputs{}, fmt.Errorf("tweets: load sections: %w", err)
	}
	sort.SliceStable(sections, func(i, j int) bool { return sections[i].Order < sections[j].Order })
	ids := make([]string, len(sections))
	for i, sec := range sections {
		ids[i] = sec.ID
	}

	snaps, err := s.store.Query(ctx, models.CollectionCards)
	if err != nil {
		return Inputs{}, fmt.Errorf("tweets: load cards: %w", err)
	}
	cards := make(map[string]*models.Card, len(snaps))
	for _, snap := range snaps {
		var card models.Card
		if err := snap.DataTo(&card); err != nil {
			return Inputs{}, err
		}
		card.ID = snap.ID
		cards[card.ID] = &card
	}
	return Inputs{SectionIDs: ids, Cards: cards, Now: s.now()}, nil
}

// Text builds the post for card.
func (s *Service) Text(card *models.Card) string {
	slug := card.Name
	if slug == "" && len(card.Slugs) > 0 {
		slug = card.Slugs[0]
	}
	if slug == "" {
		slug = card.ID
	}
	return strings.TrimSpace(card.Title) + " " + s.baseURL + "/c/" + slug
}

// AutoPost posts the best-scoring card and records it. It returns nil when no
// card is eligible.
func (s *Service) AutoPost(ctx context.Context) (*models.Tweet, error) {
	in, err := s.Inputs(ctx)
	if err != nil {
		return nil, err
	}
	best, ok := Best(in, s.cache)
	if !ok {
		s.logger.Info("no card eligible for posting")
		return nil, nil
	}

	text := s.Text(best.Card)
	tweetID, err := s.poster.Post(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("tweets: post card %s: %w", best.Card.ID, err)
	}

	now := s.now().UTC()
	tweet := models.Tweet{
		ID:      uuid.NewString(),
		Card:    best.Card.ID,
		TweetID: tweetID,
		Text:    text,
		Created: now,
	}
	err = s.store.Batch().
		Set(models.CollectionTweets, tweet.ID, tweet).
		Update(models.CollectionCards, best.Card.ID, map[string]any{
			"tweet_count":  docstore.Increment(1),
			"last_tweeted": now,
		}).
		Commit(ctx)
	if err != nil {
		return nil, fmt.Errorf("tweets: record tweet for %s: %w", best.Card.ID, err)
	}

	if s.metrics != nil {
		s.metrics.TweetsPosted.Inc()
	}
	s.logger.Info("card posted",
		slog.String("card_id", best.Card.ID),
		slog.String("tweet_id", tweetID),
		slog.Float64("score", best.Score))
	return &tweet, nil
}

// RefreshEngagement updates the metrics of tweets posted within the last
// week and returns how many were updated.
func (s *Service) RefreshEngagement(ctx context.Context) (int, error) {
	all, err := docstore.QueryAs[models.Tweet](ctx, s.store, models.CollectionTweets)
	if err != nil {
		return 0, fmt.Errorf("tweets: load tweets: %w", err)
	}
	cutoff := s.now().Add(-engagementWindow)
	byTweetID := make(map[string]models.Tweet)
	var ids []string
	for _, t := range all {
		if t.Created.Before(cutoff) || t.TweetID == "" {
			continue
		}
		byTweetID[t.TweetID] = t
		ids = append(ids, t.TweetID)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	engagement, err := s.poster.Engagement(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("tweets: fetch engagement: %w", err)
	}

	now := s.now().UTC()
	batch := s.store.Batch()
	for tweetID, e := range engagement {
		t, ok := byTweetID[tweetID]
		if !ok {
			continue
		}
		batch.Update(models.CollectionTweets, t.ID, map[string]any{
			"like_count":         e.LikeCount,
			"retweet_count":      e.RetweetCount,
			"reply_count":        e.ReplyCount,
			"engagement_updated": now,
		})
	}
	if batch.Len() == 0 {
		return 0, nil
	}
	if err := batch.Commit(ctx); err != nil {
		return 0, fmt.Errorf("tweets: store engagement: %w", err)
	}
	s.logger.Info("tweet engagement refreshed", slog.Int("tweets", batch.Len()))
	return batch.Len(), nil
}
