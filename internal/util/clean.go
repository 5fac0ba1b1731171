package util

import "strings"

// Clean keeps printable ASCII plus whitespace, trims, folds newlines into
// spaces and drops carriage returns. With upper set the result is upper-cased.
func Clean(raw string, upper bool) string {
	if raw == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if (c >= 0x20 && c <= 0x7e) || c == '\t' || c == '\n' || c == '\r' || c == '\v' || c == '\f' {
			b.WriteByte(c)
		}
	}
	s := strings.TrimSpace(b.String())
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", "")
	if upper {
		s = strings.ToUpper(s)
	}
	return s
}

type cleanKey struct {
	raw   string
	upper bool
}

// Cleaner memoizes Clean for the lifetime of one backend run. Not safe for
// concurrent use.
type Cleaner struct {
	cache map[cleanKey]string
}

func NewCleaner() *Cleaner {
	return &Cleaner{cache: make(map[cleanKey]string)}
}

func (c *Cleaner) Clean(raw string, upper bool) string {
	key := cleanKey{raw: raw, upper: upper}
	if v, ok := c.cache[key]; ok {
		return v
	}
	v := Clean(raw, upper)
	c.cache[key] = v
	return v
}

func (c *Cleaner) Upper(raw string) string {
	return c.Clean(raw, true)
}

func (c *Cleaner) Len() int {
	return len(c.cache)
}
