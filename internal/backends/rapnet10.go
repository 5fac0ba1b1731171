package backends

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"gemfeed/internal/config"
	"gemfeed/internal/feeds"
	"gemfeed/internal/pipeline"
)

const (
	rapnetAuthURL = "https://technet.rapaport.com/HTTP/Authenticate.aspx"
	rapnetFileURL = "https://technet.rapaport.com/HTTP/DLS/GetFile.aspx"
)

var rapnet10Header = []string{
	"Seller", "RapNet Seller Code", "Shape", "Weight", "Color", "Fancy Color", "Fancy Intensity",
	"Fancy Overtone", "Clarity", "Cut Grade", "Polish", "Symmetry", "Fluorescence", "Measurements",
	"Lab", "Cert #", "Stock #", "Treatment", "RapNet Price", "RapNet Discount Price", "Depth %",
	"Table %", "Girdle", "Culet", "Comment", "City", "State", "Country", "Is Matched Pair Separable",
	"Pair Stock #", "Parcel number of stones", "Certificate URL", "RapNet Lot #", "Date",
}

// RapNet10 downloads the RapNet DLS CSV with a ticket from the
// authentication endpoint.
type RapNet10 struct{}

func (RapNet10) Name() string     { return "rapnet10" }
func (RapNet10) Header() []string { return rapnet10Header }

func (b RapNet10) Enabled(site config.Site) bool {
	return site.HasCredentials(b.Name(), "username", "password")
}

func (b RapNet10) Fetch(ctx context.Context, env Env, yield func(Record) error) error {
	var data []byte
	if path := env.localFile(b.Name(), ".csv"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSourceMissing, err)
		}
		data = raw
	} else {
		raw, err := b.download(ctx, env)
		if err != nil {
			return err
		}
		data = raw
	}

	if err := checkDLSHeader(data); err != nil {
		return err
	}
	table, err := ParseDelimited(data, ',')
	if err != nil {
		return err
	}
	return yieldAll(table.Keyed(), yield)
}

func (b RapNet10) download(ctx context.Context, env Env) ([]byte, error) {
	username, password := env.setting("username"), env.setting("password")
	if username == "" || password == "" {
		return nil, fmt.Errorf("%w: rapnet credentials", ErrSourceMissing)
	}
	ticket, err := env.Client.PostForm(ctx, rapnetAuthURL, url.Values{"username": {username}, "password": {password}})
	if err != nil {
		var statusErr *feeds.StatusError
		if errors.As(err, &statusErr) && (statusErr.Status == http.StatusUnauthorized || statusErr.Status == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: rapnet authentication", ErrNotAuthorized)
		}
		return nil, fmt.Errorf("rapnet auth: %w", err)
	}
	q := url.Values{"ticket": {strings.TrimSpace(string(ticket))}}
	return env.Client.Get(ctx, rapnetFileURL+"?"+q.Encode(), nil)
}

// checkDLSHeader turns the error text the DLS service puts in place of a
// header row into a fatal error.
func checkDLSHeader(data []byte) error {
	first := data
	if i := bytes.IndexByte(first, '\n'); i >= 0 {
		first = first[:i]
	}
	line := string(first)
	switch {
	case strings.Contains(line, "not authorized"):
		return fmt.Errorf("%w: not authorized for DLS", ErrNotAuthorized)
	case strings.Contains(line, "File not found"):
		return fmt.Errorf("%w: no rapnet feed found", ErrSourceMissing)
	}
	return nil
}

func (RapNet10) Map(rec Record) (pipeline.Fields, error) {
	return pipeline.Fields{
		StockNumber:         rec["Stock #"],
		LotNum:              rec["RapNet Lot #"],
		Owner:               rec["Seller"],
		Cut:                 rec["Shape"],
		CutGrade:            rec["Cut Grade"],
		Color:               rec["Color"],
		Clarity:             rec["Clarity"],
		CaratWeight:         rec["Weight"],
		CaratPrice:          rec["RapNet Price"],
		Certifier:           rec["Lab"],
		CertNum:             rec["Cert #"],
		CertImage:           rec["Certificate URL"],
		DepthPercent:        rec["Depth %"],
		TablePercent:        rec["Table %"],
		Girdle:              rec["Girdle"],
		Culet:               rec["Culet"],
		Polish:              rec["Polish"],
		Symmetry:            rec["Symmetry"],
		Fluorescence:        rec["Fluorescence"],
		FancyColor:          rec["Fancy Color"],
		FancyColorIntensity: rec["Fancy Intensity"],
		FancyColorOvertone:  rec["Fancy Overtone"],
		Measurements:        rec["Measurements"],
		City:                rec["City"],
		State:               rec["State"],
		Country:             rec["Country"],
		RapDate:             rec["Date"],
	}, nil
}
