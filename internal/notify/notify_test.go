package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/smtp"
	"strings"
	"testing"

	"github.com/starford/compendium/internal/docstore"
	"github.com/starford/compendium/internal/models"
	"github.com/starford/compendium/internal/testutil"
)

type sentMail struct {
	to      []string
	subject string
	body    string
}

type fakeMailer struct {
	configured bool
	err        error
	sent       []sentMail
}

func (f *fakeMailer) IsConfigured() bool { return f.configured }

func (f *fakeMailer) SendHTML(to []string, subject, body string) error {
	f.sent = append(f.sent, sentMail{to, subject, body})
	return f.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func created(coll, id string, v any) docstore.Change {
	var after docstore.Snapshot
	after.Collection, after.ID = coll, id
	raw := map[string]any{}
	switch x := v.(type) {
	case models.Star:
		raw["card"], raw["owner"] = x.Card, x.Owner
	case models.Message:
		raw["card"], raw["author"], raw["message"] = x.Card, x.Author, x.Message
	}
	after.Data = raw
	return docstore.Change{Collection: coll, ID: id, Before: &docstore.Snapshot{}, After: &after}
}

func seed(t *testing.T) *docstore.Store {
	store := testutil.TestStore(t)
	testutil.Put(t, store, models.CollectionUsers, "u1", models.User{DisplayName: "Ada"})
	testutil.Put(t, store, models.CollectionCards, "c1", models.Card{ID: "c1", Title: "Linked Data"})
	return store
}

func TestStarNotification(t *testing.T) {
	store := seed(t)
	mailer := &fakeMailer{configured: true}
	d := New(store, mailer, "https://example.com/", "admin@example.com", discardLogger(), nil)

	if err := d.HandleStarCreated(context.Background(), created("stars", "u1+c1", models.Star{Card: "c1", Owner: "u1"})); err != nil {
		t.Fatal(err)
	}
	if len(mailer.sent) != 1 {
		t.Fatalf("sent %d mails", len(mailer.sent))
	}
	m := mailer.sent[0]
	if m.to[0] != "admin@example.com" {
		t.Errorf("to = %v", m.to)
	}
	if !strings.Contains(m.subject, "Ada") || !strings.Contains(m.subject, "Linked Data") {
		t.Errorf("subject = %q", m.subject)
	}
	if !strings.Contains(m.body, `href="https://example.com/c/c1"`) {
		t.Errorf("body missing deep link: %s", m.body)
	}
}

func TestMessageNotificationEscapes(t *testing.T) {
	store := seed(t)
	mailer := &fakeMailer{configured: true}
	d := New(store, mailer, "https://example.com", "admin@example.com", discardLogger(), nil)

	msg := models.Message{Card: "c1", Author: "ghost", Message: "<script>x</script>"}
	_ = d.HandleMessageCreated(context.Background(), created("messages", "m1", msg))
	if len(mailer.sent) != 1 {
		t.Fatalf("sent %d mails", len(mailer.sent))
	}
	body := mailer.sent[0].body
	if strings.Contains(body, "<script>") {
		t.Error("message must be escaped")
	}
	if !strings.Contains(body, "Someone") {
		t.Error("unknown user should fall back to a generic name")
	}
}

func TestUnconfiguredIsNoop(t *testing.T) {
	mailer := &fakeMailer{}
	d := New(seed(t), mailer, "https://example.com", "admin@example.com", discardLogger(), nil)
	if err := d.HandleStarCreated(context.Background(), created("stars", "s", models.Star{Card: "c1", Owner: "u1"})); err != nil {
		t.Errorf("unconfigured mail should not fail: %v", err)
	}
	if len(mailer.sent) != 0 {
		t.Error("nothing should be sent")
	}
}

func TestSendFailureSwallowed(t *testing.T) {
	mailer := &fakeMailer{configured: true, err: errors.New("smtp down")}
	d := New(seed(t), mailer, "https://example.com", "admin@example.com", discardLogger(), nil)
	if err := d.HandleStarCreated(context.Background(), created("stars", "s", models.Star{Card: "c1", Owner: "u1"})); err != nil {
		t.Errorf("send failure should be swallowed: %v", err)
	}
}

func TestSMTPMailer(t *testing.T) {
	tests := []struct {
		name   string
		config MailConfig
		want   bool
	}{
		{"empty", MailConfig{}, false},
		{"missing from", MailConfig{Host: "smtp.example.com", Port: 587}, false},
		{"configured", MailConfig{Host: "smtp.example.com", Port: 587, From: "a@example.com"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewSMTPMailer(tt.config).IsConfigured(); got != tt.want {
				t.Errorf("IsConfigured() = %v, want %v", got, tt.want)
			}
		})
	}

	m := NewSMTPMailer(MailConfig{Host: "smtp.example.com", Port: 587, From: "a@example.com", FromName: "Compendium"})
	var gotAddr string
	var gotMsg []byte
	m.send = func(addr string, _ smtp.Auth, _ string, _ []string, msg []byte) error {
		gotAddr, gotMsg = addr, msg
		return nil
	}
	if err := m.SendHTML([]string{"b@example.com"}, "Hi", "<p>x</p>"); err != nil {
		t.Fatal(err)
	}
	if gotAddr != "smtp.example.com:587" {
		t.Errorf("addr = %q", gotAddr)
	}
	if !strings.Contains(string(gotMsg), "From: Compendium <a@example.com>") {
		t.Errorf("msg = %s", gotMsg)
	}
}
