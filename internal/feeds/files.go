package feeds

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Latest returns the most recently modified file matching pattern.
func Latest(pattern string) (string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", err
	}
	var (
		best     string
		bestTime int64
	)
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		mod := info.ModTime().UnixNano()
		if best == "" || mod > bestTime || (mod == bestTime && m > best) {
			best, bestTime = m, mod
		}
	}
	if best == "" {
		return "", fmt.Errorf("no file matches %s: %w", pattern, fs.ErrNotExist)
	}
	return best, nil
}

// DecodeText converts vendor text to UTF-8. A BOM selects UTF-8 or UTF-16;
// without one, invalid UTF-8 is read as Windows-1252.
func DecodeText(data []byte) ([]byte, error) {
	var fallback transform.Transformer = encoding.Nop.NewDecoder()
	if !utf8.Valid(data) {
		fallback = charmap.Windows1252.NewDecoder()
	}
	out, _, err := transform.Bytes(unicode.BOMOverride(fallback), data)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReadText reads a file and decodes it with DecodeText.
func ReadText(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeText(raw)
}

// Unzip returns the first archive member whose name ends with suffix
// (case-insensitive). An empty suffix takes the first regular file.
func Unzip(data []byte, suffix string) ([]byte, string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, "", fmt.Errorf("open zip: %w", err)
	}
	suffix = strings.ToLower(suffix)
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !strings.HasSuffix(strings.ToLower(f.Name), suffix) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, "", err
		}
		body, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return nil, "", err
		}
		return body, f.Name, nil
	}
	return nil, "", fmt.Errorf("zip has no %q member: %w", suffix, fs.ErrNotExist)
}
