package backends

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"gemfeed/internal/config"
	"gemfeed/internal/feeds"
	"gemfeed/internal/pipeline"
)

const (
	rapnetJSONURL      = "https://technet.rapaport.com/HTTP/JSON/RetailFeed/GetDiamonds.aspx"
	rapnetJSONPageSize = 1000
)

// RapNetJSON pages through the RapNet retail feed JSON API.
type RapNetJSON struct{}

func (RapNetJSON) Name() string { return "rapnet_json" }

func (b RapNetJSON) Enabled(site config.Site) bool {
	return site.HasCredentials(b.Name(), "username", "password")
}

type rapnetJSONEnvelope struct {
	Response struct {
		Header struct {
			ErrorCode    json.Number `json:"error_code"`
			ErrorMessage string      `json:"error_message"`
		} `json:"header"`
		Body struct {
			Diamonds []map[string]any `json:"diamonds"`
		} `json:"body"`
	} `json:"response"`
}

func (b RapNetJSON) Fetch(ctx context.Context, env Env, yield func(Record) error) error {
	if path := env.localFile(b.Name(), ".json"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSourceMissing, err)
		}
		page, err := decodeRapnetJSON(raw)
		if err != nil {
			return err
		}
		return yieldAll(page, yield)
	}

	username, password := env.setting("username"), env.setting("password")
	if username == "" || password == "" {
		return fmt.Errorf("%w: rapnet credentials", ErrSourceMissing)
	}
	prefs := env.Site.Prefs
	body := map[string]any{
		"page_size":      rapnetJSONPageSize,
		"sort_by":        "price",
		"sort_direction": "Asc",
	}
	if prefs.MinimumCaratWeight.IsPositive() {
		body["size_from"] = prefs.MinimumCaratWeight.InexactFloat64()
	}
	if prefs.MaximumCaratWeight.IsPositive() {
		body["size_to"] = prefs.MaximumCaratWeight.InexactFloat64()
	}
	if prefs.MinimumPrice.IsPositive() {
		body["price_total_from"] = prefs.MinimumPrice.InexactFloat64()
	}
	if prefs.MaximumPrice.IsPositive() {
		body["price_total_to"] = prefs.MaximumPrice.InexactFloat64()
	}

	pager := &feeds.Pager[Record]{
		Options: env.Paging,
		ID:      func(r Record) string { return r["diamond_id"] },
		Fetch: func(ctx context.Context, page int) (feeds.Page[Record], error) {
			body["page_number"] = page
			payload, err := json.Marshal(map[string]any{
				"request": map[string]any{
					"header": map[string]string{"username": username, "password": password},
					"body":   body,
				},
			})
			if err != nil {
				return feeds.Page[Record]{}, err
			}
			header := http.Header{}
			header.Set("Content-Type", "application/json")
			raw, err := env.Client.Do(ctx, feeds.Request{Method: http.MethodPost, URL: rapnetJSONURL, Header: header, Body: payload})
			if err != nil {
				return feeds.Page[Record]{}, err
			}
			records, err := decodeRapnetJSON(raw)
			if err != nil {
				return feeds.Page[Record]{}, err
			}
			return feeds.Page[Record]{Items: records, More: true}, nil
		},
	}
	stats, err := pager.Run(ctx, yield)
	if env.Log != nil {
		env.Log.Debug("rapnet json paging done", "pages", stats.Pages, "records", stats.Records, "repeats", stats.Repeats)
	}
	return err
}

func decodeRapnetJSON(raw []byte) ([]Record, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var env rapnetJSONEnvelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("decode rapnet json: %w", err)
	}
	if msg := strings.ToLower(env.Response.Header.ErrorMessage); msg != "" {
		if strings.Contains(msg, "auth") || strings.Contains(msg, "login") {
			return nil, fmt.Errorf("%w: %s", ErrNotAuthorized, env.Response.Header.ErrorMessage)
		}
		if code := env.Response.Header.ErrorCode.String(); code != "" && code != "0" {
			return nil, fmt.Errorf("rapnet json error %s: %s", code, env.Response.Header.ErrorMessage)
		}
	}
	out := make([]Record, 0, len(env.Response.Body.Diamonds))
	for _, d := range env.Response.Body.Diamonds {
		out = append(out, flatten(d))
	}
	return out, nil
}

func (RapNetJSON) Map(rec Record) (pipeline.Fields, error) {
	f := pipeline.Fields{
		StockNumber:       rec["stock_num"],
		Owner:             rec["seller"],
		Cut:               rec["shape"],
		CutGrade:          rec["cut"],
		Color:             rec["color"],
		Clarity:           rec["clarity"],
		CaratWeight:       rec["size"],
		TotalPrice:        rec["total_sales_price"],
		Certifier:         rec["lab"],
		CertNum:           rec["cert_num"],
		DepthPercent:      rec["depth_percent"],
		TablePercent:      rec["table_percent"],
		Girdle:            joinGirdle(rec["girdle_min"], rec["girdle_max"]),
		Culet:             rec["culet_size"],
		Polish:            rec["polish"],
		Symmetry:          rec["symmetry"],
		Fluorescence:      rec["fluor_intensity"],
		FluorescenceColor: rec["fluor_color"],
		Length:            rec["meas_length"],
		Width:             rec["meas_width"],
		Depth:             rec["meas_depth"],
		City:              rec["city"],
		State:             rec["state"],
		Country:           rec["country"],
	}
	data := map[string]any{}
	if id := rec["diamond_id"]; id != "" {
		data["diamond_id"] = id
	}
	if strings.EqualFold(rec["has_image_file"], "true") && rec["image_file_url"] != "" {
		data["image"] = rec["image_file_url"]
	}
	if len(data) > 0 {
		f.Data = data
	}
	return f, nil
}

// joinGirdle renders thinnest and thickest girdle as "THIN - THICK".
func joinGirdle(thin, thick string) string {
	thin, thick = strings.TrimSpace(thin), strings.TrimSpace(thick)
	switch {
	case thin == "":
		return thick
	case thick == "" || strings.EqualFold(thin, thick):
		return thin
	default:
		return thin + " - " + thick
	}
}

// flatten keeps the scalar members of a decoded JSON object as strings.
func flatten(obj map[string]any) Record {
	rec := Record{}
	for k, v := range obj {
		switch t := v.(type) {
		case string:
			rec[k] = t
		case json.Number:
			rec[k] = t.String()
		case bool:
			if t {
				rec[k] = "true"
			} else {
				rec[k] = "false"
			}
		case float64:
			rec[k] = fmt.Sprint(t)
		}
	}
	return rec
}
