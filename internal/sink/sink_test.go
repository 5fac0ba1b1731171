package sink

import (
	"bufio"
	"context"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"gemfeed/internal"
)

type memStore struct {
	existing    map[string]struct{}
	loaded      []string
	loads       int
	updates     []internal.DiamondUpdate
	deactivated map[string]struct{}
}

func (m *memStore) ExistingStockNumbers(context.Context, string) (map[string]struct{}, error) {
	out := map[string]struct{}{}
	for k := range m.existing {
		out[k] = struct{}{}
	}
	return out, nil
}

func (m *memStore) LoadSpool(_ context.Context, spool io.Reader) (int64, error) {
	m.loads++
	scanner := bufio.NewScanner(spool)
	var n int64
	for scanner.Scan() {
		m.loaded = append(m.loaded, scanner.Text())
		n++
	}
	return n, scanner.Err()
}

func (m *memStore) UpdateDiamonds(_ context.Context, _ string, updates []internal.DiamondUpdate) error {
	m.updates = append(m.updates, updates...)
	return nil
}

func (m *memStore) DeactivateMissing(_ context.Context, _ string, seen map[string]struct{}) (int64, error) {
	m.deactivated = seen
	var n int64
	for k := range m.existing {
		if _, ok := seen[k]; !ok {
			n++
		}
	}
	return n, nil
}

func diamond(stock string) *internal.Diamond {
	id := int64(3)
	now := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	return &internal.Diamond{
		Added:       now,
		Updated:     now,
		Active:      true,
		Source:      "idex",
		StockNumber: stock,
		Clarity:     &id,
		Cut:         &id,
		CaratWeight: decimal.RequireFromString("1.01"),
		Cost:        decimal.RequireFromString("1000"),
		Price:       decimal.RequireFromString("1200"),
		CaratPrice:  decimal.RequireFromString("1188.118811"),
		Comment:     "tab\there",
		Data:        map[string]any{"v360": "http://x"},
	}
}

func TestEncodeRowColumnContract(t *testing.T) {
	line := EncodeRow(diamond("S1"))
	values := DecodeLine(line)
	if len(values) != len(Columns) {
		t.Fatalf("got %d values for %d columns", len(values), len(Columns))
	}
	col := func(name string) *string {
		for i, c := range Columns {
			if c == name {
				return values[i]
			}
		}
		t.Fatalf("no column %s", name)
		return nil
	}
	if *col("stock_number") != "S1" || *col("active") != "t" || *col("manmade") != "f" {
		t.Fatal("basic columns wrong")
	}
	if *col("price") != "1200.00" || *col("carat_price") != "1188.12" {
		t.Fatalf("money price=%s carat=%s", *col("price"), *col("carat_price"))
	}
	if col("color") != nil || col("depth_percent") != nil || col("rap_date") != nil {
		t.Fatal("absent nullable values must decode as NULL")
	}
	if *col("comment") != "tab\there" {
		t.Fatalf("comment=%q", *col("comment"))
	}
	if *col("data") != `{"v360":"http://x"}` {
		t.Fatalf("data=%s", *col("data"))
	}
	if *col("added") != "2024-05-06T07:08:09Z" {
		t.Fatalf("added=%s", *col("added"))
	}
}

func TestSinkSplitsInsertsAndUpdates(t *testing.T) {
	store := &memStore{existing: map[string]struct{}{"OLD1": {}, "GONE": {}}}
	ctx := context.Background()
	s, err := New(ctx, store, "idex", 2)
	if err != nil {
		t.Fatal(err)
	}

	for _, stock := range []string{"NEW1", "OLD1", "NEW2", "NEW1"} {
		if err := s.Accept(ctx, diamond(stock)); err != nil {
			t.Fatal(err)
		}
	}
	res, err := s.Close(ctx, true)
	if err != nil {
		t.Fatal(err)
	}

	if res.Inserted != 2 || res.Updated != 2 || res.Accepted() != 4 {
		t.Fatalf("res=%+v", res)
	}
	if len(store.loaded) != 2 {
		t.Fatalf("loaded=%d", len(store.loaded))
	}
	if len(store.updates) != 2 || store.updates[0].StockNumber != "OLD1" || store.updates[1].StockNumber != "NEW1" {
		t.Fatalf("updates=%+v", store.updates)
	}
	if store.loads < 2 {
		t.Fatalf("buffer of 2 should flush more than once, loads=%d", store.loads)
	}
	if res.Deactivated != 1 {
		t.Fatalf("deactivated=%d", res.Deactivated)
	}
}

func TestSinkEmptyRunNeverDeactivates(t *testing.T) {
	store := &memStore{existing: map[string]struct{}{"OLD1": {}}}
	s, err := New(context.Background(), store, "idex", 10)
	if err != nil {
		t.Fatal(err)
	}
	res, err := s.Close(context.Background(), true)
	if err != nil {
		t.Fatal(err)
	}
	if res.Deactivated != 0 || store.deactivated != nil {
		t.Fatal("empty feed must not deactivate stored rows")
	}
}

func TestEncodeRowKeepsLiteralNullText(t *testing.T) {
	row := diamond("NULL")
	row.Culet = "NULL"
	row.Girdle = `\x4EULL`
	values := DecodeLine(EncodeRow(row))
	for i, c := range Columns {
		switch c {
		case "stock_number", "culet":
			if values[i] == nil || *values[i] != "NULL" {
				t.Fatalf("%s must decode as the text NULL, got %v", c, values[i])
			}
		case "girdle":
			if values[i] == nil || *values[i] != `\x4EULL` {
				t.Fatalf("girdle=%v", values[i])
			}
		case "color":
			if values[i] != nil {
				t.Fatalf("absent color must stay NULL")
			}
		}
	}
}
