package connectors

import (
	"context"
	"fmt"
	"time"
)

type FetchService struct {
	connector MailConnector
	store     *MailStore
}

type FetchResult struct {
	Fetched int
	Stored  int
}

func NewFetchService(connector MailConnector, store *MailStore) *FetchService {
	return &FetchService{connector: connector, store: store}
}

func (s *FetchService) FetchAndStore(ctx context.Context, label string, max int) (FetchResult, error) {
	messages, err := s.connector.FetchInbox(ctx, label, max)
	if err != nil {
		return FetchResult{}, fmt.Errorf("fetch %s: %w", label, err)
	}

	res := FetchResult{Fetched: len(messages)}
	for _, msg := range messages {
		if _, err := s.store.Store(ctx, msg); err != nil {
			return res, fmt.Errorf("store %s: %w", msg.MessageID, err)
		}
		res.Stored++
	}
	if err := s.store.RecordFetch(ctx, label, time.Now()); err != nil {
		return res, fmt.Errorf("record fetch %s: %w", label, err)
	}
	return res, nil
}
