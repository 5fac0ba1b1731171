// Package connectors brings mailed vendor feeds into the local mail store,
// where the vendormail backend picks them up.
package connectors

import (
	"context"
	"fmt"

	"gemfeed/internal"
	"gemfeed/internal/config"
	"gemfeed/internal/connectors/gmail"
	"gemfeed/internal/connectors/imap"
)

type MailConnector interface {
	FetchInbox(ctx context.Context, label string, max int) ([]internal.FetchedMailMessage, error)
}

// Open builds the connector for provider ("gmail" or "imap").
func Open(ctx context.Context, cfg config.Config, provider string) (MailConnector, error) {
	switch provider {
	case "gmail":
		return gmail.NewConnector(ctx, cfg)
	case "imap":
		return imap.NewConnector(cfg)
	default:
		return nil, fmt.Errorf("unknown mail provider %q", provider)
	}
}
