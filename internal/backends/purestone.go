package backends

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gemfeed/internal/config"
	"gemfeed/internal/feeds"
	"gemfeed/internal/pipeline"
)

var purestoneColumns = []string{
	"stock_number", "location", "cut", "color", "clarity", "carat_weight", "certifier", "cut_grade",
	"polish", "symmetry", "fluorescence", "rap_price", "rap_discount", "ppc", "carat_price", "cert_num",
	"length", "width", "depth", "depth_percent", "table_percent", "crown_height", "crown_angle",
	"pavilion_angle", "pavilion_depth", "girdle_percent", "girdle", "culet", "lw_ratio", "comments",
	"inscription", "cert_image", "image", "video", "video_with_data", "growth_process", "color_shade",
}

// PureStone sells lab-grown stones only. Its carat_price column holds the
// total cost of the stone despite the name.
type PureStone struct{}

func (PureStone) Name() string { return "purestone" }

func (b PureStone) Enabled(site config.Site) bool {
	return listed(site, b.Name())
}

func (b PureStone) Fetch(ctx context.Context, env Env, yield func(Record) error) error {
	path := env.localFile(b.Name(), ".csv")
	if path == "" {
		latest, err := feeds.Latest(filepath.Join(env.FeedDir, "purestone", "*.csv"))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSourceMissing, err)
		}
		path = latest
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSourceMissing, err)
	}
	table, err := ParseDelimited(data, ',')
	if err != nil {
		return err
	}
	return yieldAll(table.Positional(purestoneColumns), yield)
}

func (PureStone) Map(rec Record) (pipeline.Fields, error) {
	if err := checkWidth(rec, purestoneColumns); err != nil {
		return pipeline.Fields{}, err
	}
	f := pipeline.Fields{
		StockNumber:    rec["stock_number"],
		Cut:            rec["cut"],
		Color:          rec["color"],
		Clarity:        rec["clarity"],
		CaratWeight:    rec["carat_weight"],
		Certifier:      rec["certifier"],
		CutGrade:       rec["cut_grade"],
		Polish:         rec["polish"],
		Symmetry:       rec["symmetry"],
		Fluorescence:   rec["fluorescence"],
		TotalPrice:     strings.ReplaceAll(rec["carat_price"], ",", ""),
		CertNum:        rec["cert_num"],
		CertImage:      rec["cert_image"],
		Length:         rec["length"],
		Width:          rec["width"],
		Depth:          rec["depth"],
		DepthPercent:   rec["depth_percent"],
		TablePercent:   rec["table_percent"],
		Girdle:         rec["girdle"],
		Culet:          rec["culet"],
		Comment:        rec["comments"],
		LabGrown:       true,
		LaserInscribed: strings.TrimSpace(rec["inscription"]) != "",
	}
	data := map[string]any{}
	for _, key := range []string{"image", "video", "growth_process", "location"} {
		if v := strings.TrimSpace(rec[key]); v != "" {
			data[key] = v
		}
	}
	if len(data) > 0 {
		f.Data = data
	}
	return f, nil
}
