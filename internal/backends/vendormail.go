package backends

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/jhillyerd/enmime"

	"gemfeed/internal/config"
	"gemfeed/internal/pipeline"
)

// VendorMail imports inventory that a vendor mails in, either as CSV/XLSX
// attachments or as an HTML table in the body. Columns are matched by
// common header names since every sender lays the sheet out differently.
type VendorMail struct{}

func (VendorMail) Name() string { return "vendormail" }

func (b VendorMail) Enabled(site config.Site) bool {
	return site.HasCredentials(b.Name(), "sender")
}

func (b VendorMail) Fetch(ctx context.Context, env Env, yield func(Record) error) error {
	var raw []byte
	ref := ""
	if path := env.localFile(b.Name(), ".eml"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSourceMissing, err)
		}
		raw = data
	} else {
		if env.Mail == nil {
			return fmt.Errorf("%w: no mail store configured", ErrSourceMissing)
		}
		sender := env.setting("sender")
		if sender == "" {
			return fmt.Errorf("%w: vendormail sender", ErrSourceMissing)
		}
		data, r, err := env.Mail.LatestFeed(ctx, sender, env.setting("subject"))
		if err != nil {
			return err
		}
		raw, ref = data, r
	}

	tables, err := mailTables(raw)
	if err != nil {
		return err
	}
	if len(tables) == 0 {
		return fmt.Errorf("%w: message has no inventory table", ErrSourceMissing)
	}
	for _, t := range tables {
		if err := yieldAll(t.Keyed(), yield); err != nil {
			return err
		}
	}
	if ref != "" {
		return env.Mail.MarkImported(ctx, ref)
	}
	return nil
}

// mailTables returns the attachment tables of a message, or the HTML body
// tables when nothing usable is attached.
func mailTables(raw []byte) ([]Table, error) {
	envelope, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("read mail envelope: %w", err)
	}

	var out []Table
	for _, att := range envelope.Attachments {
		name := strings.TrimSpace(att.FileName)
		switch strings.ToLower(filepath.Ext(name)) {
		case ".csv", ".tsv", ".txt", ".xlsx", ".xlsm":
		default:
			continue
		}
		t, err := ReadTable(name, att.Content)
		if err != nil {
			return nil, fmt.Errorf("attachment %s: %w", name, err)
		}
		if len(t.Rows) > 0 {
			out = append(out, t)
		}
	}
	if len(out) > 0 || envelope.HTML == "" {
		return out, nil
	}
	return ParseHTMLTables(envelope.HTML)
}

// headerKey folds a header cell to lower-case letters and digits.
func headerKey(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// column returns the value under the first header matching one of names
// after folding.
func column(rec Record, names ...string) string {
	folded := make(map[string]string, len(rec))
	for k, v := range rec {
		folded[headerKey(k)] = v
	}
	for _, name := range names {
		if v, ok := folded[headerKey(name)]; ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func (VendorMail) Map(rec Record) (pipeline.Fields, error) {
	f := pipeline.Fields{
		StockNumber:       column(rec, "Stock #", "Stock Number", "Stock No", "Stock", "SKU", "Lot #", "Item"),
		LotNum:            column(rec, "Lot Number", "Lot"),
		Owner:             column(rec, "Supplier", "Vendor"),
		Cut:               column(rec, "Shape", "Cut"),
		CutGrade:          column(rec, "Cut Grade", "Make"),
		Color:             column(rec, "Color", "Colour"),
		Clarity:           column(rec, "Clarity"),
		CaratWeight:       column(rec, "Carat", "Carats", "Weight", "Size", "Ct"),
		TotalPrice:        column(rec, "Total Price", "Total", "Amount", "Price", "Cost", "Net Price", "Total Cost"),
		CaratPrice:        column(rec, "Price / Carat", "Price Per Carat", "PPC", "$/ct"),
		Certifier:         column(rec, "Lab", "Certifier", "Certificate Lab"),
		CertNum:           column(rec, "Cert #", "Certificate #", "Certificate Number", "Report #"),
		CertImage:         column(rec, "Certificate Image", "Cert Image", "Cert Link"),
		DepthPercent:      column(rec, "Depth %", "Depth Percent", "Depth"),
		TablePercent:      column(rec, "Table %", "Table Percent", "Table"),
		Girdle:            column(rec, "Girdle"),
		Culet:             column(rec, "Culet", "Culet Size"),
		Polish:            column(rec, "Polish", "Pol"),
		Symmetry:          column(rec, "Symmetry", "Sym"),
		Fluorescence:      column(rec, "Fluorescence", "Fluor Intensity", "Fluor", "Flr"),
		FluorescenceColor: column(rec, "Fluor Color", "Fluorescence Color"),
		Measurements:      column(rec, "Measurements", "Dimension", "Dimensions", "Meas"),
		Comment:           column(rec, "Comment", "Comments", "Remarks"),
		City:              column(rec, "City"),
		State:             column(rec, "State"),
		Country:           column(rec, "Country"),
	}
	if f.StockNumber == "" {
		f.StockNumber = rec.Find("stock")
	}
	growth := strings.ToLower(column(rec, "Growth", "Origin", "Lab Grown", "Type"))
	f.LabGrown = strings.Contains(growth, "lab") || strings.Contains(growth, "cvd") ||
		strings.Contains(growth, "hpht") || growth == "y" || growth == "yes"
	return f, nil
}
