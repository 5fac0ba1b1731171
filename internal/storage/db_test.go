package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"gemfeed/internal"
	"gemfeed/internal/sink"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "site.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func listing(stock, price string) *internal.Diamond {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	clarity := int64(4)
	return &internal.Diamond{
		Added:       now,
		Updated:     now,
		Active:      true,
		Source:      "idex",
		StockNumber: stock,
		Clarity:     &clarity,
		CaratWeight: decimal.RequireFromString("1.00"),
		Cost:        decimal.RequireFromString("1000"),
		CaratPrice:  decimal.RequireFromString(price),
		Price:       decimal.RequireFromString(price),
		Comment:     "line\tbreak",
	}
}

func runFeed(t *testing.T, db *DB, rows ...*internal.Diamond) sink.Result {
	t.Helper()
	ctx := context.Background()
	s, err := sink.New(ctx, db, "idex", 10)
	if err != nil {
		t.Fatalf("sink: %v", err)
	}
	for _, r := range rows {
		if err := s.Accept(ctx, r); err != nil {
			t.Fatalf("accept: %v", err)
		}
	}
	res, err := s.Close(ctx, true)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	return res
}

func TestSpoolLoadThenRerunUpdates(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	first := runFeed(t, db, listing("A1", "1200"), listing("A2", "1300"))
	if first.Inserted != 2 || first.Updated != 0 {
		t.Fatalf("unexpected first run: %+v", first)
	}

	second := runFeed(t, db, listing("A1", "1250"))
	if second.Inserted != 0 || second.Updated != 1 || second.Deactivated != 1 {
		t.Fatalf("unexpected second run: %+v", second)
	}

	n, err := db.CountDiamonds(ctx, "idex")
	if err != nil || n != 2 {
		t.Fatalf("expected 2 rows, got %d (%v)", n, err)
	}

	a1, err := db.GetDiamond(ctx, "idex", "A1")
	if err != nil || a1 == nil {
		t.Fatalf("get A1: %v", err)
	}
	if a1.Price != "1250.00" || !a1.Active {
		t.Fatalf("unexpected A1: %+v", a1)
	}
	a2, err := db.GetDiamond(ctx, "idex", "A2")
	if err != nil || a2 == nil {
		t.Fatalf("get A2: %v", err)
	}
	if a2.Active {
		t.Fatalf("expected A2 deactivated")
	}
}

func TestLiteralNullTextIsStored(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	odd := listing("NULL", "1300")
	odd.Culet = "NULL"
	res := runFeed(t, db, listing("A1", "1200"), odd)
	if res.Inserted != 2 {
		t.Fatalf("expected both rows inserted, got %+v", res)
	}
	got, err := db.GetDiamond(ctx, "idex", "NULL")
	if err != nil || got == nil {
		t.Fatalf("get NULL stock: %v", err)
	}
	if got.Culet != "NULL" {
		t.Fatalf("culet=%q", got.Culet)
	}
}

func TestUpdateKeepsCertifierWhenNil(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	row := listing("C1", "900")
	gia := int64(7)
	row.Certifier = &gia
	runFeed(t, db, row)

	runFeed(t, db, listing("C1", "950"))

	got, err := db.GetDiamond(ctx, "idex", "C1")
	if err != nil || got == nil {
		t.Fatalf("get: %v", err)
	}
	if got.Certifier == nil || *got.Certifier != 7 {
		t.Fatalf("expected certifier kept, got %+v", got.Certifier)
	}
}

func TestDeleteSource(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	runFeed(t, db, listing("D1", "100"), listing("D2", "100"))

	n, err := db.DeleteSource(ctx, "idex")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 deleted, got %d", n)
	}
	left, _ := db.CountDiamonds(ctx, "idex")
	if left != 0 {
		t.Fatalf("expected empty source, got %d", left)
	}
}

func TestCreateCertifierIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	first, err := db.CreateCertifier(ctx, "HRD")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := db.CreateCertifier(ctx, "HRD")
	if err != nil {
		t.Fatalf("create again: %v", err)
	}
	if first != second {
		t.Fatalf("expected same id, got %d and %d", first, second)
	}

	tables, err := db.LoadReferenceTables(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(tables[internal.TableCertifier]) != 1 {
		t.Fatalf("expected one certifier, got %+v", tables[internal.TableCertifier])
	}
}

func TestMarkupsKeepOrder(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	band := func(lo, hi, pct string) internal.MarkupBand {
		return internal.MarkupBand{
			Lower:   decimal.RequireFromString(lo),
			Upper:   decimal.RequireFromString(hi),
			Percent: decimal.RequireFromString(pct),
		}
	}
	standard := []internal.MarkupBand{band("0", "500", "10"), band("500.01", "5000", "20")}
	lab := []internal.MarkupBand{band("0", "100000", "5")}

	if err := db.ReplaceMarkups(ctx, standard, lab); err != nil {
		t.Fatalf("replace: %v", err)
	}
	gotStd, gotLab, err := db.LoadMarkups(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(gotStd) != 2 || !gotStd[1].Percent.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("unexpected standard bands: %+v", gotStd)
	}
	if len(gotLab) != 1 || !gotLab[0].Percent.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("unexpected lab bands: %+v", gotLab)
	}
}

func TestImportRunsAndMessages(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	run := internal.ImportRun{
		RunID:          "r1",
		Site:           "demo",
		Source:         "idex",
		Started:        time.Now(),
		Finished:       time.Now(),
		Successes:      3,
		Inserted:       2,
		Updated:        1,
		SkipReasons:    map[string]int{"price below minimum": 4},
		MissingAliases: map[string]int{"clarity:SI3": 2},
	}
	if err := db.InsertImportRun(ctx, run); err != nil {
		t.Fatalf("insert run: %v", err)
	}
	runs, err := db.ListImportRuns(ctx, 10)
	if err != nil || len(runs) != 1 {
		t.Fatalf("list runs: %v %d", err, len(runs))
	}
	if runs[0].Inserted != 2 || runs[0].SkipReasons["price below minimum"] != 4 || runs[0].MissingAliases["clarity:SI3"] != 2 {
		t.Fatalf("unexpected run: %+v", runs[0])
	}

	msg, err := db.UpsertFeedMessage(ctx, "imap", "m1", "Inventory", "vendor@example.com", "2024-01-01T00:00:00Z", "abc", "/tmp/abc.eml", "fetched")
	if err != nil {
		t.Fatalf("upsert message: %v", err)
	}
	if err := db.UpdateFeedMessageStatus(ctx, msg.ID, "imported"); err != nil {
		t.Fatalf("status: %v", err)
	}
	pending, err := db.ListFeedMessagesByStatus(ctx, "fetched", 10)
	if err != nil || len(pending) != 0 {
		t.Fatalf("expected no pending messages, got %d (%v)", len(pending), err)
	}
}
