package pipeline

import (
	"errors"
	"sort"

	"gemfeed/internal"
	"gemfeed/internal/refs"
)

type Kind int

const (
	Emit Kind = iota
	Skip
	Error
)

func (k Kind) String() string {
	switch k {
	case Emit:
		return "emit"
	case Skip:
		return "skip"
	default:
		return "error"
	}
}

// Outcome is the result of processing one record. Row is set only for Emit;
// Reason is set for Skip and Error.
type Outcome struct {
	Kind   Kind
	Row    *internal.Diamond
	Reason string
	Err    error
}

func emit(row *internal.Diamond) Outcome {
	return Outcome{Kind: Emit, Row: row}
}

func skip(reason string) Outcome {
	return Outcome{Kind: Skip, Reason: reason}
}

func fail(reason string, err error) Outcome {
	return Outcome{Kind: Error, Reason: reason, Err: err}
}

// Tally aggregates outcomes for one backend run.
type Tally struct {
	Emitted        int
	Skips          int
	Errors         int
	SkipReasons    map[string]int
	ErrorReasons   map[string]int
	MissingAliases map[string]int
}

func NewTally() *Tally {
	return &Tally{
		SkipReasons:    map[string]int{},
		ErrorReasons:   map[string]int{},
		MissingAliases: map[string]int{},
	}
}

func (t *Tally) Record(o Outcome) {
	switch o.Kind {
	case Emit:
		t.Emitted++
	case Skip:
		t.Skips++
		t.SkipReasons[o.Reason]++
	case Error:
		t.Errors++
		t.ErrorReasons[o.Reason]++
		var kv *refs.KeyValueError
		if errors.As(o.Err, &kv) {
			t.missing(kv.Table, kv.Value)
		}
	}
}

// RecordFailure counts a record that never reached Process, such as a
// malformed vendor row.
func (t *Tally) RecordFailure(reason string) {
	t.Errors++
	t.ErrorReasons[reason]++
}

// RecordSkip counts a record the vendor glue rejected before Process.
func (t *Tally) RecordSkip(reason string) {
	t.Skips++
	t.SkipReasons[reason]++
}

func (t *Tally) missing(table, value string) {
	t.MissingAliases[table+":"+value]++
}

type AliasCount struct {
	Key   string
	Count int
}

// TopMissing returns the n most frequent unresolved aliases.
func (t *Tally) TopMissing(n int) []AliasCount {
	out := make([]AliasCount, 0, len(t.MissingAliases))
	for k, v := range t.MissingAliases {
		out = append(out, AliasCount{Key: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
