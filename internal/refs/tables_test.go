package refs

import (
	"context"
	"errors"
	"testing"

	"gemfeed/internal"
)

type fakeCreator struct {
	next  int64
	calls []string
	err   error
}

func (f *fakeCreator) CreateCertifier(_ context.Context, name string) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.calls = append(f.calls, name)
	f.next++
	return f.next, nil
}

func sampleTables(creator CertifierCreator) *Tables {
	return Build(map[string][]internal.ReferenceEntry{
		internal.TableClarity: {
			{ID: 1, Abbr: "VS1", Name: "Very Slightly Included 1"},
			{ID: 2, Abbr: "SI1", Aliases: "si-1\nS I 1"},
		},
		internal.TableFluorescence: {
			{ID: 10, Abbr: "N", Name: "None"},
			{ID: 11, Abbr: "F", Name: "Faint"},
			{ID: 12, Abbr: "VST", Aliases: "VERY STRONG"},
			{ID: 13, Abbr: "ST", Aliases: "STRONG"},
		},
		internal.TableCertifier: {
			{ID: 100, Abbr: "GIA", Name: "Gemological Institute of America"},
			{ID: 101, Abbr: "EGL", Disabled: true},
		},
	}, creator)
}

func TestResolveIsCaseInsensitiveOverAllKeys(t *testing.T) {
	tables := sampleTables(nil)
	for _, v := range []string{"VS1", "vs1", "VERY SLIGHTLY INCLUDED 1"} {
		if id, ok := tables.Resolve(internal.TableClarity, v); !ok || id != 1 {
			t.Fatalf("%q: id=%d ok=%v", v, id, ok)
		}
	}
	for _, v := range []string{"SI-1", "S I 1"} {
		if id, ok := tables.Resolve(internal.TableClarity, v); !ok || id != 2 {
			t.Fatalf("%q: id=%d ok=%v", v, id, ok)
		}
	}
	if tables.ResolvePtr(internal.TableClarity, "I3") != nil {
		t.Fatal("expected nil for unknown value")
	}
}

func TestResolveOrFailReturnsKeyValueError(t *testing.T) {
	tables := sampleTables(nil)
	_, err := tables.ResolveOrFail(internal.TableClarity, "XX")
	var kv *KeyValueError
	if !errors.As(err, &kv) {
		t.Fatalf("err=%v", err)
	}
	if kv.Table != internal.TableClarity || kv.Value != "XX" {
		t.Fatalf("kv=%+v", kv)
	}
}

func TestResolvePrefixPrefersLongestAlias(t *testing.T) {
	tables := sampleTables(nil)
	cases := []struct {
		input string
		id    int64
		alias string
	}{
		{input: "VERY STRONG BLUE", id: 12, alias: "VERY STRONG"},
		{input: "STRONG BLUE", id: 13, alias: "STRONG"},
		{input: "FAINT", id: 11, alias: "FAINT"},
		{input: "NONE", id: 10, alias: "NONE"},
	}
	for _, tc := range cases {
		id, alias, ok := tables.ResolvePrefix(internal.TableFluorescence, tc.input)
		if !ok || id != tc.id || alias != tc.alias {
			t.Fatalf("%q: id=%d alias=%q ok=%v", tc.input, id, alias, ok)
		}
	}
	if _, _, ok := tables.ResolvePrefix(internal.TableFluorescence, "MEDIUM"); ok {
		t.Fatal("MEDIUM should not resolve")
	}
}

func TestResolveCertifierCreatesOncePerValue(t *testing.T) {
	creator := &fakeCreator{next: 500}
	tables := sampleTables(creator)
	ctx := context.Background()

	first, err := tables.ResolveCertifier(ctx, "hrd")
	if err != nil {
		t.Fatal(err)
	}
	if first.Status != CertifierCreated || first.ID != 501 {
		t.Fatalf("first=%+v", first)
	}
	second, err := tables.ResolveCertifier(ctx, "HRD")
	if err != nil {
		t.Fatal(err)
	}
	if second.Status != CertifierKnown || second.ID != 501 {
		t.Fatalf("second=%+v", second)
	}
	if len(creator.calls) != 1 || creator.calls[0] != "HRD" {
		t.Fatalf("calls=%v", creator.calls)
	}
	if tables.CreatedCertifiers() != 1 {
		t.Fatalf("created=%d", tables.CreatedCertifiers())
	}
	if id, ok := tables.Resolve(internal.TableCertifier, "HRD"); !ok || id != 501 {
		t.Fatal("created certifier should resolve through the table")
	}
}

func TestResolveCertifierStatuses(t *testing.T) {
	tables := sampleTables(&fakeCreator{})
	ctx := context.Background()

	res, err := tables.ResolveCertifier(ctx, "GIA")
	if err != nil || res.Status != CertifierKnown || res.ID != 100 {
		t.Fatalf("GIA res=%+v err=%v", res, err)
	}
	res, err = tables.ResolveCertifier(ctx, "egl")
	if err != nil || res.Status != CertifierDisabled {
		t.Fatalf("EGL res=%+v err=%v", res, err)
	}

	failing := sampleTables(&fakeCreator{err: errors.New("db down")})
	if _, err := failing.ResolveCertifier(ctx, "AGS"); err == nil {
		t.Fatal("expected creator error")
	}
}
