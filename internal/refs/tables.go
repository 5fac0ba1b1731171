package refs

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"gemfeed/internal"
)

// KeyValueError reports a value that no alias in a required table matched.
type KeyValueError struct {
	Table string
	Value string
}

func (e *KeyValueError) Error() string {
	return fmt.Sprintf("no %s alias for %q", e.Table, e.Value)
}

// CertifierCreator persists a certifier discovered in a feed and returns its id.
type CertifierCreator interface {
	CreateCertifier(ctx context.Context, name string) (int64, error)
}

type certifierValue struct {
	id       int64
	disabled bool
}

type prefixAlias struct {
	alias string
	id    int64
}

// Tables holds the alias lookups for one backend run.
type Tables struct {
	lookup     map[string]map[string]int64
	prefixes   map[string][]prefixAlias
	certifiers map[string]certifierValue
	creator    CertifierCreator
	created    int
}

// Build indexes every alias, abbreviation and name (upper-cased) to the entry id.
func Build(entries map[string][]internal.ReferenceEntry, creator CertifierCreator) *Tables {
	t := &Tables{
		lookup:     make(map[string]map[string]int64, len(entries)),
		prefixes:   make(map[string][]prefixAlias, len(entries)),
		certifiers: map[string]certifierValue{},
		creator:    creator,
	}
	for table, list := range entries {
		idx := map[string]int64{}
		for _, e := range list {
			for _, key := range entryKeys(e) {
				if _, taken := idx[key]; !taken {
					idx[key] = e.ID
				}
				if table == internal.TableCertifier {
					if _, taken := t.certifiers[key]; !taken {
						t.certifiers[key] = certifierValue{id: e.ID, disabled: e.Disabled}
					}
				}
			}
		}
		t.lookup[table] = idx
		t.prefixes[table] = sortedPrefixes(idx)
	}
	return t
}

func entryKeys(e internal.ReferenceEntry) []string {
	keys := []string{}
	add := func(v string) {
		v = strings.ToUpper(strings.TrimSpace(v))
		if v != "" {
			keys = append(keys, v)
		}
	}
	add(e.Abbr)
	for _, line := range strings.Split(strings.ReplaceAll(e.Aliases, "\r\n", "\n"), "\n") {
		add(line)
	}
	add(e.Name)
	return keys
}

// Longest alias first so "VERY STRONG" wins over "V"; ties break lexically.
func sortedPrefixes(idx map[string]int64) []prefixAlias {
	out := make([]prefixAlias, 0, len(idx))
	for alias, id := range idx {
		out = append(out, prefixAlias{alias: alias, id: id})
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i].alias) != len(out[j].alias) {
			return len(out[i].alias) > len(out[j].alias)
		}
		return out[i].alias < out[j].alias
	})
	return out
}

func (t *Tables) Resolve(table, value string) (int64, bool) {
	value = strings.ToUpper(value)
	if value == "" {
		return 0, false
	}
	id, ok := t.lookup[table][value]
	return id, ok
}

func (t *Tables) ResolveOrFail(table, value string) (int64, error) {
	id, ok := t.Resolve(table, value)
	if !ok {
		return 0, &KeyValueError{Table: table, Value: value}
	}
	return id, nil
}

// ResolvePtr is the degrade-to-null lookup.
func (t *Tables) ResolvePtr(table, value string) *int64 {
	id, ok := t.Resolve(table, value)
	if !ok {
		return nil
	}
	return &id
}

// ResolvePrefix finds the longest alias the value starts with and returns
// the matched alias alongside its id.
func (t *Tables) ResolvePrefix(table, value string) (int64, string, bool) {
	value = strings.ToUpper(value)
	if value == "" {
		return 0, "", false
	}
	for _, p := range t.prefixes[table] {
		if strings.HasPrefix(value, p.alias) {
			return p.id, p.alias, true
		}
	}
	return 0, "", false
}

type CertifierStatus int

const (
	CertifierKnown CertifierStatus = iota
	CertifierDisabled
	CertifierCreated
)

type CertifierResult struct {
	ID     int64
	Status CertifierStatus
}

// ResolveCertifier looks up a cleaned, non-empty certifier string. Unknown
// values are persisted and registered so later rows in the run resolve to the
// same id.
func (t *Tables) ResolveCertifier(ctx context.Context, value string) (CertifierResult, error) {
	value = strings.ToUpper(value)
	if value == "" {
		return CertifierResult{}, &KeyValueError{Table: internal.TableCertifier, Value: value}
	}
	if c, ok := t.certifiers[value]; ok {
		if c.disabled {
			return CertifierResult{ID: c.id, Status: CertifierDisabled}, nil
		}
		return CertifierResult{ID: c.id, Status: CertifierKnown}, nil
	}
	if t.creator == nil {
		return CertifierResult{}, &KeyValueError{Table: internal.TableCertifier, Value: value}
	}
	id, err := t.creator.CreateCertifier(ctx, value)
	if err != nil {
		return CertifierResult{}, fmt.Errorf("create certifier %q: %w", value, err)
	}
	t.certifiers[value] = certifierValue{id: id}
	if t.lookup[internal.TableCertifier] == nil {
		t.lookup[internal.TableCertifier] = map[string]int64{}
	}
	t.lookup[internal.TableCertifier][value] = id
	t.created++
	return CertifierResult{ID: id, Status: CertifierCreated}, nil
}

// CreatedCertifiers counts certifiers registered during this run.
func (t *Tables) CreatedCertifiers() int {
	return t.created
}
