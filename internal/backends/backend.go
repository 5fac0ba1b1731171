// Package backends adapts each vendor feed to the shared row pipeline. A
// backend knows how to fetch its feed and how to map one vendor record to a
// pipeline field bag; everything else is shared.
package backends

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"gemfeed/internal/config"
	"gemfeed/internal/feeds"
	"gemfeed/internal/logger"
	"gemfeed/internal/pipeline"
)

var (
	// ErrSourceMissing means the feed could not be located (no file in the
	// inbox, missing credentials, vendor reports no file).
	ErrSourceMissing = errors.New("feed source missing")
	ErrNotAuthorized = errors.New("feed not authorized")
	// ErrMalformedRecord is returned by Map when a record does not have the
	// shape the vendor layout promises.
	ErrMalformedRecord = errors.New("malformed record")
)

// SkipError is returned by Map when the vendor marks a record as not for sale.
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string {
	return "skip: " + e.Reason
}

// Record is one vendor record flattened to strings.
type Record map[string]string

// Find returns the first non-empty value whose key contains any probe,
// compared case-insensitively. Keys are visited in sorted order.
func (r Record) Find(probes ...string) string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, probe := range probes {
		probe = strings.ToLower(probe)
		for _, k := range keys {
			if strings.Contains(strings.ToLower(k), probe) && strings.TrimSpace(r[k]) != "" {
				return r[k]
			}
		}
	}
	return ""
}

// MailSource hands out the newest mailed feed for a sender.
type MailSource interface {
	LatestFeed(ctx context.Context, sender, subject string) (raw []byte, ref string, err error)
	MarkImported(ctx context.Context, ref string) error
}

// Env is everything a backend may touch while fetching.
type Env struct {
	Site     config.Site
	Settings map[string]string
	// File overrides the live source for one run.
	File     string
	Debug    bool
	DebugDir string
	FeedDir  string
	Client   *feeds.Client
	Paging   feeds.PageOptions
	Mail     MailSource
	Log      *logger.Logger
}

// localFile returns the file a backend should read instead of its live
// source: the explicit override, else the debug sample in debug mode.
func (e Env) localFile(name, ext string) string {
	if e.File != "" {
		return e.File
	}
	if e.Debug {
		return filepath.Join(e.DebugDir, name+ext)
	}
	return ""
}

func (e Env) setting(key string) string {
	return strings.TrimSpace(e.Settings[key])
}

type Backend interface {
	// Name is the source id stamped on every row.
	Name() string
	Enabled(site config.Site) bool
	Fetch(ctx context.Context, env Env, yield func(Record) error) error
	Map(rec Record) (pipeline.Fields, error)
}

// Headered backends publish the exact header row of their file layout, which
// lets an operator import a file without naming the backend.
type Headered interface {
	Header() []string
}

var registry = []Backend{
	RapNet10{},
	RapNetJSON{},
	RapNetSOAP{},
	IDEX{},
	Stuller{},
	Amipi{},
	Polygon{},
	PureStone{},
	EdgeEDT{},
	VendorMail{},
}

// All returns every registered backend in run order.
func All() []Backend {
	out := make([]Backend, len(registry))
	copy(out, registry)
	return out
}

func Lookup(name string) (Backend, error) {
	for _, b := range registry {
		if b.Name() == name {
			return b, nil
		}
	}
	return nil, fmt.Errorf("unknown backend %q", name)
}

// Detect matches a header row, blank cells dropped, against every Headered
// backend.
func Detect(header []string) (Backend, bool) {
	trimmed := make([]string, 0, len(header))
	for _, h := range header {
		if h = strings.TrimSpace(h); h != "" {
			trimmed = append(trimmed, h)
		}
	}
	for _, b := range registry {
		h, ok := b.(Headered)
		if !ok {
			continue
		}
		if equalHeader(h.Header(), trimmed) {
			return b, true
		}
	}
	return nil, false
}

func equalHeader(want, got []string) bool {
	if len(want) != len(got) {
		return false
	}
	for i := range want {
		if !strings.EqualFold(want[i], got[i]) {
			return false
		}
	}
	return true
}

func listed(site config.Site, name string) bool {
	_, ok := site.Backend(name)
	return ok
}
