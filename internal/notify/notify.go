// Package notify emails the site administrator when a card is starred or
// commented on. Notifications are best-effort: failures are logged, never
// returned.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"strings"

	"github.com/starford/compendium/internal/docstore"
	"github.com/starford/compendium/internal/metrics"
	"github.com/starford/compendium/internal/models"
)

const emailTemplate = `<p>{{.Actor}} {{.Action}} <a href="{{.Link}}">{{.CardTitle}}</a>.</p>
{{if .Message}}<blockquote>{{.Message}}</blockquote>
{{end}}<p><a href="{{.Link}}">{{.Link}}</a></p>
`

var tmpl = template.Must(template.New("notification").Parse(emailTemplate))

type emailData struct {
	Actor     string
	Action    string
	CardTitle string
	Link      string
	Message   string
}

// Dispatcher turns star and message creation into admin emails.
type Dispatcher struct {
	store      *docstore.Store
	mailer     Mailer
	baseURL    string
	adminEmail string
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// New creates a Dispatcher.
func New(store *docstore.Store, mailer Mailer, baseURL, adminEmail string, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		store:      store,
		mailer:     mailer,
		baseURL:    strings.TrimRight(baseURL, "/"),
		adminEmail: adminEmail,
		logger:     logger,
		metrics:    m,
	}
}

// HandleStarCreated is the stars-created trigger.
func (d *Dispatcher) HandleStarCreated(ctx context.Context, change docstore.Change) error {
	var star models.Star
	if err := change.After.DataTo(&star); err != nil {
		d.logger.Error("decode star", slog.String("star_id", change.ID), slog.String("error", err.Error()))
		return nil
	}
	d.send(ctx, "star", star.Owner, star.Card, "starred", "")
	return nil
}

// HandleMessageCreated is the messages-created trigger.
func (d *Dispatcher) HandleMessageCreated(ctx context.Context, change docstore.Change) error {
	var msg models.Message
	if err := change.After.DataTo(&msg); err != nil {
		d.logger.Error("decode message", slog.String("message_id", change.ID), slog.String("error", err.Error()))
		return nil
	}
	d.send(ctx, "message", msg.Author, msg.Card, "left a message on", msg.Message)
	return nil
}

func (d *Dispatcher) send(ctx context.Context, kind, uid, cardID, action, message string) {
	logger := d.logger.With(slog.String("kind", kind), slog.String("card_id", cardID))
	if !d.mailer.IsConfigured() || d.adminEmail == "" {
		logger.Warn("mail not configured, notification skipped")
		d.count(kind, "skipped")
		return
	}

	data := emailData{
		Actor:     d.displayName(ctx, uid),
		Action:    action,
		CardTitle: d.cardTitle(ctx, cardID),
		Link:      d.baseURL + "/c/" + cardID,
		Message:   message,
	}
	var body bytes.Buffer
	if err := tmpl.Execute(&body, data); err != nil {
		logger.Error("render notification", slog.String("error", err.Error()))
		d.count(kind, "error")
		return
	}
	subject := fmt.Sprintf("%s %s %s", data.Actor, action, data.CardTitle)

	if err := d.mailer.SendHTML([]string{d.adminEmail}, subject, body.String()); err != nil {
		logger.Error("send notification", slog.String("error", err.Error()))
		d.count(kind, "error")
		return
	}
	logger.Info("notification sent")
	d.count(kind, "sent")
}

func (d *Dispatcher) displayName(ctx context.Context, uid string) string {
	user, err := docstore.GetAs[models.User](ctx, d.store, models.CollectionUsers, uid)
	if err != nil || user.DisplayName == "" {
		return "Someone"
	}
	return user.DisplayName
}

func (d *Dispatcher) cardTitle(ctx context.Context, cardID string) string {
	card, err := docstore.GetAs[models.Card](ctx, d.store, models.CollectionCards, cardID)
	if err != nil || card.Title == "" {
		return cardID
	}
	return card.Title
}

func (d *Dispatcher) count(kind, result string) {
	if d.metrics == nil {
		return
	}
	d.metrics.Notifications.WithLabelValues(kind, result).Inc()
}
