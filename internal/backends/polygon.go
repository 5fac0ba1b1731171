package backends

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gemfeed/internal/config"
	"gemfeed/internal/pipeline"
)

var polygonHeader = []string{
	"Supplier ID", "Shape", "Weight", "Color", "Clarity", "Price / Carat", "Lot Number", "Stock Number",
	"Lab", "Cert #", "Certificate Image", "2nd Image", "Dimension", "Depth %", "Table %", "Crown Angle",
	"Crown %", "Pavilion Angle", "Pavilion %", "Girdle Thinnest", "Girdle Thickest", "Girdle %",
	"Culet Size", "Culet Condition", "Polish", "Symmetry", "Fluor Color", "Fluor Intensity",
	"Enhancements", "Remarks", "Availability", "Is Active", "FC-Main Body", "FC- Intensity",
	"FC- Overtone", "Matched Pair", "Separable", "Matching Stock #", "Pavilion", "Syndication",
	"Cut Grade", "External Url",
}

// Polygon members upload CSVs named after their Polygon id into the FTP
// inbox. The lexically last file wins.
type Polygon struct{}

func (Polygon) Name() string     { return "polygon" }
func (Polygon) Header() []string { return polygonHeader }

func (b Polygon) Enabled(site config.Site) bool {
	return site.HasCredentials(b.Name(), "polygon_id")
}

func (b Polygon) Fetch(ctx context.Context, env Env, yield func(Record) error) error {
	path := env.localFile(b.Name(), ".csv")
	if path == "" {
		id := env.setting("polygon_id")
		if id == "" {
			return fmt.Errorf("%w: polygon id", ErrSourceMissing)
		}
		files, err := filepath.Glob(filepath.Join(env.FeedDir, "polygon", id+"*.csv"))
		if err != nil {
			return err
		}
		if len(files) == 0 {
			return fmt.Errorf("%w: no polygon file for id %s: %v", ErrSourceMissing, id, fs.ErrNotExist)
		}
		sort.Strings(files)
		path = files[len(files)-1]
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSourceMissing, err)
	}
	table, err := ParseDelimited(data, ',')
	if err != nil {
		return err
	}
	return yieldAll(table.Positional(polygonHeader), yield)
}

func (Polygon) Map(rec Record) (pipeline.Fields, error) {
	if err := checkWidth(rec, polygonHeader); err != nil {
		return pipeline.Fields{}, err
	}
	if strings.TrimSpace(rec["Is Active"]) != "Y" {
		return pipeline.Fields{}, &SkipError{Reason: "listing not active"}
	}
	f := pipeline.Fields{
		Owner:               rec["Supplier ID"],
		Cut:                 rec["Shape"],
		CaratWeight:         rec["Weight"],
		Color:               rec["Color"],
		Clarity:             rec["Clarity"],
		CaratPrice:          rec["Price / Carat"],
		LotNum:              rec["Lot Number"],
		StockNumber:         rec["Stock Number"],
		Certifier:           rec["Lab"],
		CertNum:             rec["Cert #"],
		CertImage:           rec["Certificate Image"],
		Measurements:        rec["Dimension"],
		DepthPercent:        rec["Depth %"],
		TablePercent:        rec["Table %"],
		Girdle:              joinGirdle(rec["Girdle Thinnest"], rec["Girdle Thickest"]),
		Culet:               rec["Culet Size"],
		Polish:              rec["Polish"],
		Symmetry:            rec["Symmetry"],
		Fluorescence:        rec["Fluor Intensity"],
		FluorescenceColor:   rec["Fluor Color"],
		Comment:             rec["Remarks"],
		FancyColor:          rec["FC-Main Body"],
		FancyColorIntensity: rec["FC- Intensity"],
		FancyColorOvertone:  rec["FC- Overtone"],
		CutGrade:            rec["Cut Grade"],
	}
	if avail := strings.TrimSpace(rec["Availability"]); avail != "" {
		f.Data = map[string]any{"availability": avail}
	}
	return f, nil
}
