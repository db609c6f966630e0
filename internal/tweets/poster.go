package tweets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// Engagement is the public metrics of one posted tweet.
type Engagement struct {
	LikeCount    int `json:"like_count"`
	RetweetCount int `json:"retweet_count"`
	ReplyCount   int `json:"reply_count"`
}

// Poster publishes posts to the social feed and reads back their engagement.
type Poster interface {
	Post(ctx context.Context, text string) (string, error)
	Engagement(ctx context.Context, ids []string) (map[string]Engagement, error)
}

// TwitterPoster talks to the Twitter (X) API v2 with an OAuth 2.0 user token.
type TwitterPoster struct {
	baseURL string
	client  *http.Client
}

// NewTwitterPoster creates a poster authenticating with token.
func NewTwitterPoster(ctx context.Context, baseURL, token string) *TwitterPoster {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
	return &TwitterPoster{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  oauth2.NewClient(ctx, ts),
	}
}

type createTweetResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
}

type lookupResponse struct {
	Data []struct {
		ID            string     `json:"id"`
		PublicMetrics Engagement `json:"public_metrics"`
	} `json:"data"`
}

func (p *TwitterPoster) Post(ctx context.Context, text string) (string, error) {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/2/tweets", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	var out createTweetResponse
	if err := p.do(req, &out); err != nil {
		return "", fmt.Errorf("twitter: post: %w", err)
	}
	if out.Data.ID == "" {
		return "", fmt.Errorf("twitter: post: response has no id")
	}
	return out.Data.ID, nil
}

func (p *TwitterPoster) Engagement(ctx context.Context, ids []string) (map[string]Engagement, error) {
	out := make(map[string]Engagement, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	q.Set("tweet.fields", "public_metrics")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/2/tweets?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var resp lookupResponse
	if err := p.do(req, &resp); err != nil {
		return nil, fmt.Errorf("twitter: lookup: %w", err)
	}
	for _, d := range resp.Data {
		out[d.ID] = d.PublicMetrics
	}
	return out, nil
}

func (p *TwitterPoster) do(req *http.Request, v any) error {
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// LogPoster stands in when posting is not configured: it logs the post and
// returns a synthetic id.
type LogPoster struct {
	Logger *slog.Logger
}

func (p LogPoster) Post(_ context.Context, text string) (string, error) {
	id := "local-" + uuid.NewString()
	p.Logger.Warn("social posting not configured, tweet logged only",
		slog.String("tweet_id", id),
		slog.String("text", text))
	return id, nil
}

func (LogPoster) Engagement(_ context.Context, ids []string) (map[string]Engagement, error) {
	return map[string]Engagement{}, nil
}
