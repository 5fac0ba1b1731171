package feeds

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"gemfeed/internal/config"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func response(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

func noSleep(context.Context, time.Duration) error { return nil }

func testClient(rt roundTripFunc) *Client {
	c := NewClient(config.Config{HTTPTimeoutMs: 1000, HTTPRateLimitRPS: 1000})
	c.sleep = noSleep
	return c.WithHTTPClient(&http.Client{Transport: rt})
}

func TestClientRetriesServerErrors(t *testing.T) {
	attempt := 0
	c := testClient(func(r *http.Request) (*http.Response, error) {
		attempt++
		if r.Header.Get("X-Key") != "k" {
			t.Fatalf("missing header")
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != "payload" {
			t.Fatalf("body not replayed: %q", body)
		}
		if attempt < 3 {
			return response(http.StatusServiceUnavailable, "busy"), nil
		}
		return response(http.StatusOK, "ok"), nil
	})

	header := http.Header{}
	header.Set("X-Key", "k")
	body, err := c.Do(context.Background(), Request{Method: http.MethodPost, URL: "https://feed.test/x", Header: header, Body: []byte("payload")})
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "ok" || attempt != 3 {
		t.Fatalf("body=%q attempts=%d", body, attempt)
	}
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	attempt := 0
	c := testClient(func(*http.Request) (*http.Response, error) {
		attempt++
		return response(http.StatusUnauthorized, "nope"), nil
	})

	_, err := c.Get(context.Background(), "https://feed.test/x?ticket=secret", nil)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.Status != http.StatusUnauthorized || attempt != 1 {
		t.Fatalf("status=%d attempts=%d", statusErr.Status, attempt)
	}
	if strings.Contains(statusErr.Error(), "secret") {
		t.Fatalf("query string leaked: %s", statusErr.Error())
	}
}

func TestClientExists(t *testing.T) {
	c := testClient(func(r *http.Request) (*http.Response, error) {
		if r.Method != http.MethodHead {
			t.Fatalf("expected HEAD, got %s", r.Method)
		}
		if strings.HasSuffix(r.URL.Path, "missing.jpg") {
			return response(http.StatusNotFound, ""), nil
		}
		return response(http.StatusOK, ""), nil
	})
	ctx := context.Background()
	if !c.Exists(ctx, "https://img.test/cert.jpg") {
		t.Fatalf("expected cert.jpg to exist")
	}
	if c.Exists(ctx, "https://img.test/missing.jpg") {
		t.Fatalf("expected missing.jpg to be absent")
	}
}

func pagesOf(pages ...[]string) func(context.Context, int) (Page[string], error) {
	return func(_ context.Context, page int) (Page[string], error) {
		if page > len(pages) {
			return Page[string]{More: true}, nil
		}
		return Page[string]{Items: pages[page-1], More: true}, nil
	}
}

func collect(t *testing.T, p *Pager[string]) ([]string, PageStats, error) {
	t.Helper()
	p.sleep = noSleep
	var got []string
	stats, err := p.Run(context.Background(), func(s string) error {
		got = append(got, s)
		return nil
	})
	return got, stats, err
}

func TestPagerStopsWhenPageHasNoNewIDs(t *testing.T) {
	p := &Pager[string]{
		Fetch: pagesOf([]string{"a", "b"}, []string{"b", "c"}, []string{"c", "a"}, []string{"d"}),
		ID:    func(s string) string { return s },
	}
	got, stats, err := collect(t, p)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(got, ",") != "a,b,c" {
		t.Fatalf("got %v", got)
	}
	if stats.Pages != 3 || stats.Repeats != 3 {
		t.Fatalf("stats %+v", stats)
	}
}

func TestPagerToleratesEmptyPages(t *testing.T) {
	calls := 0
	p := &Pager[string]{
		Options: PageOptions{EmptyPageRetries: 2},
		Fetch: func(_ context.Context, page int) (Page[string], error) {
			calls++
			if page == 1 {
				return Page[string]{Items: []string{"x"}, More: true}, nil
			}
			return Page[string]{More: true}, nil
		},
		ID: func(s string) string { return s },
	}
	got, _, err := collect(t, p)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || calls != 4 {
		t.Fatalf("got %v after %d calls", got, calls)
	}
}

func TestPagerHonorsLastPageAndRefresh(t *testing.T) {
	refreshes := 0
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p := &Pager[string]{
		Options: PageOptions{RefreshEvery: time.Minute},
		Fetch: func(_ context.Context, page int) (Page[string], error) {
			clock = clock.Add(45 * time.Second)
			return Page[string]{Items: []string{strconv.Itoa(page)}, More: page < 4}, nil
		},
		ID:      func(s string) string { return s },
		Refresh: func(context.Context) error { refreshes++; return nil },
		now:     func() time.Time { return clock },
	}
	got, _, err := collect(t, p)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 {
		t.Fatalf("got %v", got)
	}
	if refreshes != 1 {
		t.Fatalf("expected 1 refresh, got %d", refreshes)
	}
}

func TestPagerBudget(t *testing.T) {
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p := &Pager[string]{
		Options: PageOptions{Budget: time.Minute},
		Fetch: func(_ context.Context, page int) (Page[string], error) {
			clock = clock.Add(50 * time.Second)
			return Page[string]{Items: []string{strconv.Itoa(page)}, More: true}, nil
		},
		ID:  func(s string) string { return s },
		now: func() time.Time { return clock },
	}
	got, _, err := collect(t, p)
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("expected budget error, got %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %v", got)
	}
}

func TestDecodeText(t *testing.T) {
	latin := []byte{'C', 'a', 'f', 0xe9}
	out, err := DecodeText(latin)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "Café" {
		t.Fatalf("got %q", out)
	}

	bom := append([]byte{0xef, 0xbb, 0xbf}, []byte("Stock #")...)
	out, err = DecodeText(bom)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "Stock #" {
		t.Fatalf("BOM not stripped: %q", out)
	}

	utf16 := []byte{0xff, 0xfe, 'S', 0, 'h', 0, 'a', 0, 'p', 0, 'e', 0}
	out, err = DecodeText(utf16)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "Shape" {
		t.Fatalf("utf-16 not decoded: %q", out)
	}
}

func TestUnzipAndLatest(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, _ := zw.Create("readme.txt")
	_, _ = w.Write([]byte("hi"))
	w, _ = zw.Create("feed/Inventory.XML")
	_, _ = w.Write([]byte("<items/>"))
	_ = zw.Close()

	body, name, err := Unzip(buf.Bytes(), ".xml")
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "<items/>" || name != "feed/Inventory.XML" {
		t.Fatalf("got %q from %s", body, name)
	}
	if _, _, err := Unzip(buf.Bytes(), ".csv"); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected not exist, got %v", err)
	}

	dir := t.TempDir()
	older := filepath.Join(dir, "a.csv")
	newer := filepath.Join(dir, "b.csv")
	_ = os.WriteFile(older, []byte("1"), 0o644)
	_ = os.WriteFile(newer, []byte("2"), 0o644)
	past := time.Now().Add(-time.Hour)
	_ = os.Chtimes(older, past, past)

	got, err := Latest(filepath.Join(dir, "*.csv"))
	if err != nil || got != newer {
		t.Fatalf("latest=%s err=%v", got, err)
	}
	if _, err := Latest(filepath.Join(dir, "*.json")); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected not exist, got %v", err)
	}
}
