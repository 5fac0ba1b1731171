package pgstore

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"gemfeed/internal"
	"gemfeed/internal/sink"
)

// Set GEMFEED_TEST_PG_DSN to run against a scratch database.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("GEMFEED_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("GEMFEED_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	schema := fmt.Sprintf("gemfeed_test_%d", time.Now().UnixNano())
	s, err := Open(ctx, dsn, 2, schema)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() {
		_, _ = s.pool.Exec(context.Background(), `DROP SCHEMA `+schema+` CASCADE`)
		_ = s.Close()
	})
	return s
}

func TestLoadSpoolAndUpdate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	row := &internal.Diamond{
		Added:       now,
		Updated:     now,
		Active:      true,
		Source:      "stuller",
		StockNumber: "ST1",
		CaratWeight: decimal.RequireFromString("0.9"),
		Cost:        decimal.RequireFromString("800"),
		CaratPrice:  decimal.RequireFromString("1066.67"),
		Price:       decimal.RequireFromString("960"),
		Data:        map[string]any{"v360": "http://example.com"},
	}
	var spool bytes.Buffer
	spool.WriteString(sink.EncodeRow(row) + "\n")

	n, err := s.LoadSpool(ctx, &spool)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row, got %d", n)
	}

	err = s.UpdateDiamonds(ctx, "stuller", []internal.DiamondUpdate{{
		StockNumber: "ST1",
		Active:      true,
		Price:       decimal.RequireFromString("999"),
		CaratPrice:  decimal.RequireFromString("1110"),
	}})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	existing, err := s.ExistingStockNumbers(ctx, "stuller")
	if err != nil || len(existing) != 1 {
		t.Fatalf("existing: %v %v", existing, err)
	}
	gone, err := s.DeactivateMissing(ctx, "stuller", map[string]struct{}{"OTHER": {}})
	if err != nil || gone != 1 {
		t.Fatalf("deactivate: %d %v", gone, err)
	}
}

func TestCreateCertifierReturnsSameID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	a, err := s.CreateCertifier(ctx, "EGL")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	b, err := s.CreateCertifier(ctx, "EGL")
	if err != nil {
		t.Fatalf("create again: %v", err)
	}
	if a != b {
		t.Fatalf("expected same id, got %d and %d", a, b)
	}
}
