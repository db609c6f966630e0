package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/robfig/cron/v3"

	"github.com/starford/compendium/internal/auth"
	"github.com/starford/compendium/internal/models"
	"github.com/starford/compendium/internal/notify"
	"github.com/starford/compendium/internal/permissions"
	"github.com/starford/compendium/internal/screenshot"
)

// Config represents the application configuration.
type Config struct {
	App         ApplicationConfig `yaml:"app"`
	SQLite      SQLiteConfig      `yaml:"sqlite"`
	Auth        AuthConfig        `yaml:"auth"`
	Site        SiteConfig        `yaml:"site"`
	OpenAI      OpenAIConfig      `yaml:"openai"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Mail        MailConfig        `yaml:"mail"`
	Social      SocialConfig      `yaml:"social"`
	Screenshot  ScreenshotConfig  `yaml:"screenshot"`
	ObjectStore ObjectStoreConfig `yaml:"object_store"`
	Redis       RedisConfig       `yaml:"redis"`
	Seed        SeedConfig        `yaml:"seed"`
	Permissions PermissionsConfig `yaml:"permissions"`
	AI          AIConfig          `yaml:"ai"`
	CORS        CORSConfig        `yaml:"cors"`
	Triggers    TriggersConfig    `yaml:"triggers"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	sections := []struct {
		name string
		v    validation.Validatable
	}{
		{"app", &c.App},
		{"sqlite", &c.SQLite},
		{"auth", &c.Auth},
		{"site", &c.Site},
		{"embedding", &c.Embedding},
		{"mail", &c.Mail},
		{"social", &c.Social},
		{"screenshot", &c.Screenshot},
		{"object_store", &c.ObjectStore},
		{"ai", &c.AI},
		{"triggers", &c.Triggers},
	}
	for _, s := range sections {
		if err := s.v.Validate(); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how bearer tokens are verified:
//   - "disabled" (default): no caller ever has an identity.
//   - "token": a static token maps to TokenUID.
//   - "jwt": HS256 tokens signed with JWTSecret.
//   - "jwks": RS256/ES256 tokens verified against JWKSURL.
type AuthConfig struct {
	Mode      string `yaml:"mode"`
	Token     string `yaml:"token"`
	TokenUID  string `yaml:"token_uid"`
	JWTSecret string `yaml:"jwt_secret"`
	JWKSURL   string `yaml:"jwks_url"`
	Issuer    string `yaml:"issuer"`
	// AllowedDomain is the email domain that earns the signed_in_domain tier.
	AllowedDomain string `yaml:"allowed_domain"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = string(auth.ModeDisabled)
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(
			string(auth.ModeDisabled), string(auth.ModeToken), string(auth.ModeJWT), string(auth.ModeJWKS))),
		validation.Field(&c.Token, validation.When(c.Mode == string(auth.ModeToken), validation.Required)),
		validation.Field(&c.TokenUID, validation.When(c.Mode == string(auth.ModeToken), validation.Required)),
		validation.Field(&c.JWTSecret, validation.When(c.Mode == string(auth.ModeJWT), validation.Required, validation.Length(32, 0))),
		validation.Field(&c.JWKSURL, validation.When(c.Mode == string(auth.ModeJWKS), validation.Required, is.URL)),
	); err != nil {
		return err
	}
	return nil
}

// Verifier returns the auth package configuration.
func (c *AuthConfig) Verifier() auth.Config {
	return auth.Config{
		Mode:      auth.Mode(c.Mode),
		Token:     c.Token,
		TokenUID:  c.TokenUID,
		JWTSecret: c.JWTSecret,
		JWKSURL:   c.JWKSURL,
		Issuer:    c.Issuer,
	}
}

// SiteConfig describes the public site.
type SiteConfig struct {
	BaseURL    string `yaml:"base_url"`
	AdminEmail string `yaml:"admin_email"`
}

// Validate validates the site configuration.
func (c *SiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.BaseURL, validation.Required, is.URL),
		validation.Field(&c.AdminEmail, is.EmailFormat),
	)
}

// OpenAIConfig holds the OpenAI credentials. An empty APIKey disables the AI
// proxy and the embedding pipeline.
type OpenAIConfig struct {
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	ChatModel string `yaml:"chat_model"`
}

// Configured reports whether an API key is set.
func (c *OpenAIConfig) Configured() bool {
	return c.APIKey != ""
}

// EmbeddingConfig controls the embedding pipeline.
type EmbeddingConfig struct {
	Enabled        bool          `yaml:"enabled"`
	ReindexTimeout time.Duration `yaml:"reindex_timeout"`
}

// Validate validates the embedding configuration.
func (c *EmbeddingConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ReindexTimeout, validation.Min(time.Second)),
	)
}

// MailConfig holds SMTP settings. A missing host disables notifications.
type MailConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	FromName string `yaml:"from_name"`
}

// Validate validates the mail configuration.
func (c *MailConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Min(0), validation.Max(65535)),
		validation.Field(&c.From, validation.When(c.Host != "", validation.Required), is.EmailFormat),
	)
}

// Mailer returns the notify package configuration.
func (c *MailConfig) Mailer() notify.MailConfig {
	return notify.MailConfig{
		Host:     c.Host,
		Port:     c.Port,
		Username: c.Username,
		Password: c.Password,
		From:     c.From,
		FromName: c.FromName,
	}
}

// SocialConfig controls tweet auto-posting.
type SocialConfig struct {
	Enabled            bool   `yaml:"enabled"`
	PostSchedule       string `yaml:"post_schedule"`
	EngagementSchedule string `yaml:"engagement_schedule"`
	APIBaseURL         string `yaml:"api_base_url"`
	BearerToken        string `yaml:"bearer_token"`
}

var cronSpec = validation.By(func(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	if _, err := cron.ParseStandard(s); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
})

// Validate validates the social configuration.
func (c *SocialConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.PostSchedule, validation.When(c.Enabled, validation.Required), cronSpec),
		validation.Field(&c.EngagementSchedule, validation.When(c.Enabled, validation.Required), cronSpec),
		validation.Field(&c.APIBaseURL, validation.When(c.Enabled, validation.Required), is.URL),
	)
}

// ScreenshotConfig controls screenshot rendering.
type ScreenshotConfig struct {
	Enabled bool          `yaml:"enabled"`
	Timeout time.Duration `yaml:"timeout"`
	Width   int           `yaml:"width"`
	Height  int           `yaml:"height"`
}

// Validate validates the screenshot configuration.
func (c *ScreenshotConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Width, validation.When(c.Enabled, validation.Required, validation.Min(100))),
		validation.Field(&c.Height, validation.When(c.Enabled, validation.Required, validation.Min(100))),
	)
}

// ObjectStoreConfig locates the S3-compatible bucket used for caching
// screenshots. An empty endpoint disables the cache.
type ObjectStoreConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// Validate validates the object store configuration.
func (c *ObjectStoreConfig) Validate() error {
	configured := c.Endpoint != ""
	return validation.ValidateStruct(c,
		validation.Field(&c.AccessKey, validation.When(configured, validation.Required)),
		validation.Field(&c.SecretKey, validation.When(configured, validation.Required)),
		validation.Field(&c.Bucket, validation.When(configured, validation.Required)),
	)
}

// Cache returns the screenshot package configuration.
func (c *ObjectStoreConfig) Cache() screenshot.ObjectStoreConfig {
	return screenshot.ObjectStoreConfig{
		Endpoint:  c.Endpoint,
		AccessKey: c.AccessKey,
		SecretKey: c.SecretKey,
		Bucket:    c.Bucket,
		UseSSL:    c.UseSSL,
	}
}

// RedisConfig holds the Redis connection URL, used for the scheduler lock.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// SeedConfig points at a directory of Markdown card fixtures.
type SeedConfig struct {
	Dir string `yaml:"dir"`
}

// PermissionsConfig holds the layered default permission tiers.
type PermissionsConfig struct {
	All            models.Permissions `yaml:"all"`
	Anonymous      models.Permissions `yaml:"anonymous"`
	SignedIn       models.Permissions `yaml:"signed_in"`
	SignedInDomain models.Permissions `yaml:"signed_in_domain"`
}

// Tiers returns the permission tiers, using domain for the last one.
func (c *PermissionsConfig) Tiers(domain string) permissions.Tiers {
	return permissions.Tiers{
		All:            c.All,
		Anonymous:      c.Anonymous,
		SignedIn:       c.SignedIn,
		SignedInDomain: c.SignedInDomain,
		Domain:         domain,
	}
}

// AIConfig holds the per-user rate limit of the AI proxy.
type AIConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// Validate validates the AI configuration.
func (c *AIConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.RequestsPerMinute, validation.Required, validation.Min(0.01)),
		validation.Field(&c.Burst, validation.Required, validation.Min(1)),
	)
}

// CORSConfig lists the origins allowed to call the API from a browser.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// TriggersConfig tunes the change-event dispatcher.
type TriggersConfig struct {
	Workers         int    `yaml:"workers"`
	MaxRedeliveries uint64 `yaml:"max_redeliveries"`
}

// Validate validates the triggers configuration.
func (c *TriggersConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Workers, validation.Required, validation.Min(1)),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		SQLite: SQLiteConfig{
			Path: "./compendium.db",
		},
		Auth: AuthConfig{
			Mode: string(auth.ModeDisabled),
		},
		Site: SiteConfig{
			BaseURL: "http://localhost:8080",
		},
		OpenAI: OpenAIConfig{
			ChatModel: "gpt-4o-mini",
		},
		Embedding: EmbeddingConfig{
			Enabled:        true,
			ReindexTimeout: 9 * time.Minute,
		},
		Mail: MailConfig{
			Port:     587,
			FromName: "Compendium",
		},
		Social: SocialConfig{
			PostSchedule:       "0 15 * * *",
			EngagementSchedule: "30 * * * *",
			APIBaseURL:         "https://api.twitter.com",
		},
		Screenshot: ScreenshotConfig{
			Timeout: 30 * time.Second,
			Width:   1200,
			Height:  630,
		},
		Permissions: PermissionsConfig{
			All:            models.Permissions{},
			Anonymous:      models.Permissions{},
			SignedIn:       models.Permissions{models.PermissionStar: true, models.PermissionComment: true},
			SignedInDomain: models.Permissions{},
		},
		AI: AIConfig{
			RequestsPerMinute: 20,
			Burst:             5,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
		Triggers: TriggersConfig{
			Workers:         4,
			MaxRedeliveries: 5,
		},
	}
}
