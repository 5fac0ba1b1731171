package backends

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"gemfeed/internal/config"
	"gemfeed/internal/feeds"
	"gemfeed/internal/pipeline"
)

const idexURL = "http://idexonline.com/Idex_Feed_API-Full_Inventory"

// IDEX downloads the full inventory as a zipped XML document of item
// elements whose attributes carry the listing.
type IDEX struct{}

func (IDEX) Name() string { return "idex" }

func (b IDEX) Enabled(site config.Site) bool {
	return site.HasCredentials(b.Name(), "access_key")
}

func (b IDEX) Fetch(ctx context.Context, env Env, yield func(Record) error) error {
	var raw []byte
	if path := env.localFile(b.Name(), ".zip"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSourceMissing, err)
		}
		raw = data
	} else {
		key := env.setting("access_key")
		if key == "" {
			return fmt.Errorf("%w: idex access key", ErrSourceMissing)
		}
		q := url.Values{"String_Access": {key}, "Show_Empty": {"1"}}
		data, err := env.Client.Get(ctx, idexURL+"?"+q.Encode(), nil)
		if err != nil {
			return fmt.Errorf("idex download: %w", err)
		}
		raw = data
	}

	doc := raw
	if bytes.HasPrefix(raw, []byte("PK")) {
		member, _, err := feeds.Unzip(raw, "")
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSourceMissing, err)
		}
		doc = member
	}
	return decodeItems(doc, yield)
}

// decodeItems streams item elements and yields their attributes.
func decodeItems(doc []byte, yield func(Record) error) error {
	dec := xml.NewDecoder(bytes.NewReader(doc))
	dec.CharsetReader = func(label string, input io.Reader) (io.Reader, error) {
		raw, err := io.ReadAll(input)
		if err != nil {
			return nil, err
		}
		decoded, err := feeds.DecodeText(raw)
		if err != nil {
			return nil, err
		}
		return bytes.NewReader(decoded), nil
	}
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("decode idex xml: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || !strings.EqualFold(start.Name.Local, "item") {
			continue
		}
		rec := Record{}
		for _, attr := range start.Attr {
			rec[attr.Name.Local] = attr.Value
		}
		if err := yield(rec); err != nil {
			return err
		}
	}
}

func (IDEX) Map(rec Record) (pipeline.Fields, error) {
	return pipeline.Fields{
		StockNumber:       rec["sr"],
		Comment:           rec["rm"],
		Owner:             rec["sup"],
		Cut:               rec["cut"],
		CaratWeight:       rec["ct"],
		Color:             rec["col"],
		Certifier:         rec["lab"],
		Clarity:           rec["cl"],
		CutGrade:          rec["mk"],
		CaratPrice:        rec["ap"],
		DepthPercent:      rec["dp"],
		TablePercent:      rec["tb"],
		Girdle:            rec["gd"],
		Culet:             rec["cs"],
		Polish:            rec["pol"],
		Symmetry:          rec["sym"],
		Fluorescence:      rec["fl"],
		FluorescenceColor: rec["fc"],
		Measurements:      rec["mes"],
		CertNum:           rec["cn"],
		CertImage:         rec["cp"],
		State:             rec["st"],
		Country:           rec["cty"],
	}, nil
}
