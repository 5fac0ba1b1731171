package connectors

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gemfeed/internal"
	"gemfeed/internal/backends"
)

const (
	StatusFetched  = "fetched"
	StatusImported = "imported"
)

// MessageStore is the slice of the mail database the store needs.
type MessageStore interface {
	UpsertFeedMessage(ctx context.Context, provider, messageID, subject, sender, receivedAt, hash, rawRef, status string) (internal.FeedMessage, error)
	LatestFeedMessage(ctx context.Context, sender, subject string) (*internal.FeedMessage, error)
	UpdateFeedMessageStatus(ctx context.Context, id int, status string) error
	SetMetadata(ctx context.Context, key, value string) error
	GetMetadata(ctx context.Context, key string) (*string, error)
}

// MailStore keeps raw messages on disk, content-addressed, and indexes them
// in the mail database. It is also the MailSource handed to backends.
type MailStore struct {
	db         MessageStore
	rawMailDir string
}

func NewMailStore(db MessageStore, rawMailDir string) *MailStore {
	return &MailStore{db: db, rawMailDir: rawMailDir}
}

func (s *MailStore) Store(ctx context.Context, msg internal.FetchedMailMessage) (internal.FeedMessage, error) {
	sum := sha256.Sum256(msg.Raw)
	hash := hex.EncodeToString(sum[:])

	if err := os.MkdirAll(s.rawMailDir, 0o755); err != nil {
		return internal.FeedMessage{}, err
	}
	rawPath := filepath.Join(s.rawMailDir, hash+".eml")
	if _, err := os.Stat(rawPath); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(rawPath, msg.Raw, 0o644); err != nil {
			return internal.FeedMessage{}, err
		}
	}
	return s.db.UpsertFeedMessage(ctx, msg.Provider, msg.MessageID, msg.Subject, msg.From, msg.ReceivedAt, hash, rawPath, StatusFetched)
}

// LatestFeed returns the newest stored message from sender. Imported
// messages are still returned, so re-running an import is idempotent.
func (s *MailStore) LatestFeed(ctx context.Context, sender, subject string) ([]byte, string, error) {
	msg, err := s.db.LatestFeedMessage(ctx, sender, subject)
	if err != nil {
		return nil, "", err
	}
	if msg == nil {
		return nil, "", fmt.Errorf("%w: no mail from %s", backends.ErrSourceMissing, sender)
	}
	raw, err := os.ReadFile(msg.RawRef)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", backends.ErrSourceMissing, err)
	}
	return raw, strconv.Itoa(msg.ID), nil
}

func (s *MailStore) MarkImported(ctx context.Context, ref string) error {
	id, err := strconv.Atoi(ref)
	if err != nil {
		return fmt.Errorf("bad message ref %q: %w", ref, err)
	}
	return s.db.UpdateFeedMessageStatus(ctx, id, StatusImported)
}

// RecordFetch stamps the time label was last pulled.
func (s *MailStore) RecordFetch(ctx context.Context, label string, at time.Time) error {
	return s.db.SetMetadata(ctx, "mail.last_fetch."+label, at.UTC().Format(time.RFC3339))
}

// LastFetch returns the stamp written by RecordFetch, or "" before the first
// fetch of label.
func (s *MailStore) LastFetch(ctx context.Context, label string) (string, error) {
	v, err := s.db.GetMetadata(ctx, "mail.last_fetch."+label)
	if err != nil || v == nil {
		return "", err
	}
	return *v, nil
}
