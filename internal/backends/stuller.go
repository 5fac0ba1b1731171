package backends

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"gemfeed/internal/config"
	"gemfeed/internal/feeds"
	"gemfeed/internal/pipeline"
)

const stullerURL = "https://www.stuller.com/api/v2/gem/diamonds"

// Stuller pages with an opaque NextPage token posted back as JSON.
type Stuller struct{}

func (Stuller) Name() string { return "stuller" }

func (b Stuller) Enabled(site config.Site) bool {
	return site.HasCredentials(b.Name(), "username", "password")
}

type stullerPage struct {
	Diamonds []map[string]any `json:"Diamonds"`
	NextPage string           `json:"NextPage"`
}

func (b Stuller) Fetch(ctx context.Context, env Env, yield func(Record) error) error {
	if path := env.localFile(b.Name(), ".json"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSourceMissing, err)
		}
		page, err := decodeStuller(raw)
		if err != nil {
			return err
		}
		return yieldAll(stullerRecords(page), yield)
	}

	username, password := env.setting("username"), env.setting("password")
	if username == "" || password == "" {
		return fmt.Errorf("%w: stuller credentials", ErrSourceMissing)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Accept", "application/json")

	next := ""
	pager := &feeds.Pager[Record]{
		Options: env.Paging,
		ID:      func(r Record) string { return r["SerialNumber"] },
		Fetch: func(ctx context.Context, _ int) (feeds.Page[Record], error) {
			req := feeds.Request{Method: http.MethodGet, URL: stullerURL, Header: header, Username: username, Password: password}
			if next != "" {
				body, _ := json.Marshal(map[string]string{"NextPage": next})
				req.Method = http.MethodPost
				req.Body = body
			}
			raw, err := env.Client.Do(ctx, req)
			if err != nil {
				return feeds.Page[Record]{}, err
			}
			page, err := decodeStuller(raw)
			if err != nil {
				return feeds.Page[Record]{}, err
			}
			next = page.NextPage
			return feeds.Page[Record]{Items: stullerRecords(page), More: next != ""}, nil
		},
	}
	_, err := pager.Run(ctx, yield)
	return err
}

func decodeStuller(raw []byte) (stullerPage, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var page stullerPage
	if err := dec.Decode(&page); err != nil {
		return page, fmt.Errorf("decode stuller json: %w", err)
	}
	return page, nil
}

func stullerRecords(page stullerPage) []Record {
	out := make([]Record, 0, len(page.Diamonds))
	for _, d := range page.Diamonds {
		rec := flatten(d)
		for k, v := range d {
			if nested, ok := v.(map[string]any); ok {
				for nk, nv := range flatten(nested) {
					rec[k+"."+nk] = nv
				}
			}
		}
		out = append(out, rec)
	}
	return out
}

func (Stuller) Map(rec Record) (pipeline.Fields, error) {
	return pipeline.Fields{
		StockNumber:  rec["SerialNumber"],
		Comment:      rec["Comments"],
		Cut:          rec["Shape"],
		CaratWeight:  rec["CaratWeight"],
		Color:        rec["Color"],
		Certifier:    rec["Certification"],
		Clarity:      rec["Clarity"],
		CutGrade:     rec["Make"],
		CaratPrice:   rec["PricePerCarat.Value"],
		DepthPercent: rec["Depth"],
		TablePercent: rec["Table"],
		Girdle:       joinGirdle(rec["Girdle"], rec["Girdle2"]),
		Culet:        rec["Culet"],
		Polish:       rec["Polish"],
		Symmetry:     rec["Symmetry"],
		Fluorescence: rec["Fluorescence"],
		Measurements: rec["Measurements"],
		CertNum:      rec["CertificationNumber"],
		CertImage:    rec["CertificatePath"],
	}, nil
}
