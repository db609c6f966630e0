// Package models defines the domain types for the compendium.
package models

import "time"

// Collection names in the document store.
const (
	CollectionCards            = "cards"
	CollectionStars            = "stars"
	CollectionMessages         = "messages"
	CollectionEmbeddings       = "embeddings"
	CollectionEmbeddingVectors = "embedding_vectors"
	CollectionPermissions      = "permissions"
	CollectionUsers            = "users"
	CollectionSections         = "sections"
	CollectionTweets           = "tweets"
	CollectionChats            = "chats"
	CollectionChatMessages     = "chat_messages"
	CollectionSeedFiles        = "seed_files"
)

// CardType identifies what kind of content a card holds.
type CardType string

const (
	CardTypeContent      CardType = "content"
	CardTypeWorkingNotes CardType = "working-notes"
	CardTypeSectionHead  CardType = "section-head"
	CardTypeConcept      CardType = "concept"
	CardTypeWork         CardType = "work"
	CardTypePerson       CardType = "person"
)

// CardTypes lists every legal card type.
var CardTypes = []CardType{
	CardTypeContent,
	CardTypeWorkingNotes,
	CardTypeSectionHead,
	CardTypeConcept,
	CardTypeWork,
	CardTypePerson,
}

// Card is a content unit of the compendium.
//
// LinksInbound is derived from other cards' Links and is written only by the
// link-graph maintainer.
type Card struct {
	ID                 string    `json:"id"`
	CardType           CardType  `json:"card_type"`
	Title              string    `json:"title"`
	Subtitle           string    `json:"subtitle,omitempty"`
	Body               string    `json:"body"`
	Links              []string  `json:"links"`
	LinksInbound       []string  `json:"links_inbound"`
	Published          bool      `json:"published"`
	Section            string    `json:"section,omitempty"`
	Slugs              []string  `json:"slugs"`
	Name               string    `json:"name,omitempty"`
	Author             string    `json:"author,omitempty"`
	StarCount          int       `json:"star_count"`
	TweetCount         int       `json:"tweet_count"`
	Created            time.Time `json:"created"`
	Updated            time.Time `json:"updated"`
	UpdatedSubstantive time.Time `json:"updated_substantive"`
	LastTweeted        time.Time `json:"last_tweeted"`
}

// Star records that a user starred a card.
type Star struct {
	Card    string    `json:"card"`
	Owner   string    `json:"owner"`
	Created time.Time `json:"created"`
}

// Message is a comment left on a card.
type Message struct {
	ID      string    `json:"id"`
	Card    string    `json:"card"`
	Author  string    `json:"author"`
	Message string    `json:"message"`
	Created time.Time `json:"created"`
}

// EmbeddingInfo is the bookkeeping record for one (card, type, version) embedding.
// Text is the source snapshot the embedding was generated from.
type EmbeddingInfo struct {
	Card          string    `json:"card"`
	EmbeddingType string    `json:"embedding_type"`
	Version       int       `json:"version"`
	Text          string    `json:"text"`
	LastUpdated   time.Time `json:"last_updated"`
}

// Permissions maps capability names to grants.
type Permissions map[string]bool

// Capability names.
const (
	PermissionAdmin    = "admin"
	PermissionRemoteAI = "remoteAI"
	PermissionEdit     = "edit"
	PermissionStar     = "star"
	PermissionComment  = "comment"
)

// User holds profile data used for display.
type User struct {
	DisplayName string `json:"display_name"`
}

// Section is one entry of the ordered section list.
type Section struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Order int    `json:"order"`
}

// Tweet records a post made for a card and its last known engagement.
type Tweet struct {
	ID                string    `json:"id"`
	Card              string    `json:"card"`
	TweetID           string    `json:"tweet_id"`
	Text              string    `json:"text"`
	Created           time.Time `json:"created"`
	LikeCount         int       `json:"like_count"`
	RetweetCount      int       `json:"retweet_count"`
	ReplyCount        int       `json:"reply_count"`
	EngagementUpdated time.Time `json:"engagement_updated"`
}

// Chat status values.
const (
	ChatStatusPending  = "pending"
	ChatStatusComplete = "complete"
	ChatStatusFailed   = "failed"
)

// Chat is an AI conversation owned by one user.
type Chat struct {
	ID      string    `json:"id"`
	Owner   string    `json:"owner"`
	Title   string    `json:"title"`
	Model   string    `json:"model"`
	Status  string    `json:"status"`
	Error   string    `json:"error,omitempty"`
	Created time.Time `json:"created"`
	Updated time.Time `json:"updated"`
}

// ChatMessage is one turn of a Chat.
type ChatMessage struct {
	ID      string    `json:"id"`
	Chat    string    `json:"chat"`
	Index   int       `json:"index"`
	Role    string    `json:"role"`
	Content string    `json:"content"`
	Created time.Time `json:"created"`
}

// SeedFile tracks the fixture file a seeded card came from.
type SeedFile struct {
	Path     string `json:"path"`
	Checksum string `json:"checksum"`
	Card     string `json:"card"`
}
