package backends

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gemfeed/internal/config"
	"gemfeed/internal/pipeline"
)

var amipiColumns = []string{
	"stock_number", "cut", "carat_weight", "color", "clarity", "certifier", "cut_grade", "polish",
	"symmetry", "fluorescence", "depth_percent", "table_percent", "list_price", "cash_price_percent",
	"cash_price", "cash_amount", "measurements", "length", "width", "depth", "ratio", "girdle",
	"girdle_from", "girdle_to", "culet", "origin", "matching", "matching_sku", "matching_separable",
	"cert_num", "key_to_symbols", "comment", "cert_image", "laser_inscription", "shade",
	"hearts_arrows", "fancy_color", "fancy_color_intensity", "fancy_color_overtone",
	"fancy_color_overtone2", "crown_angle", "crown_height", "pavilion_angle", "pavilion_depth",
	"days_to_ship", "city", "state", "country", "memo_price_percent", "memo_price", "milky",
	"eye_clean", "brand", "video_url",
}

// Amipi drops a positional CSV export, either into the FTP inbox or at a
// URL configured for the site.
type Amipi struct{}

func (Amipi) Name() string { return "amipi" }

func (b Amipi) Enabled(site config.Site) bool {
	return listed(site, b.Name())
}

func (b Amipi) Fetch(ctx context.Context, env Env, yield func(Record) error) error {
	path := env.localFile(b.Name(), ".csv")
	var data []byte
	switch {
	case path != "":
	case env.setting("url") != "":
		raw, err := env.Client.Get(ctx, env.setting("url"), nil)
		if err != nil {
			return fmt.Errorf("amipi download: %w", err)
		}
		data = raw
	default:
		name := env.setting("file")
		if name == "" {
			name = "amipi_Thinkspace.csv"
		}
		path = filepath.Join(env.FeedDir, "amipi", name)
	}
	if data == nil {
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSourceMissing, err)
		}
		data = raw
	}

	table, err := ParseDelimited(data, ',')
	if err != nil {
		return err
	}
	return yieldAll(table.Positional(amipiColumns), yield)
}

func (Amipi) Map(rec Record) (pipeline.Fields, error) {
	if err := checkWidth(rec, amipiColumns); err != nil {
		return pipeline.Fields{}, err
	}
	f := pipeline.Fields{
		StockNumber:         rec["stock_number"],
		Cut:                 rec["cut"],
		CaratWeight:         rec["carat_weight"],
		Color:               rec["color"],
		Clarity:             rec["clarity"],
		Certifier:           rec["certifier"],
		CutGrade:            rec["cut_grade"],
		Polish:              rec["polish"],
		Symmetry:            rec["symmetry"],
		Fluorescence:        rec["fluorescence"],
		DepthPercent:        rec["depth_percent"],
		TablePercent:        rec["table_percent"],
		CaratPrice:          strings.ReplaceAll(rec["cash_price"], ",", ""),
		Length:              rec["length"],
		Width:               rec["width"],
		Depth:               rec["depth"],
		Girdle:              rec["girdle"],
		Culet:               rec["culet"],
		CertNum:             rec["cert_num"],
		Comment:             rec["comment"],
		FancyColor:          rec["fancy_color"],
		FancyColorIntensity: rec["fancy_color_intensity"],
		FancyColorOvertone:  rec["fancy_color_overtone"],
		City:                rec["city"],
		State:               rec["state"],
		Country:             rec["country"],
		LabGrown:            strings.TrimSpace(rec["origin"]) != "",
		LaserInscribed:      strings.TrimSpace(rec["laser_inscription"]) != "",
	}
	if v := strings.TrimSpace(rec["video_url"]); v != "" {
		f.Data = map[string]any{"video": v}
	}
	return f, nil
}
