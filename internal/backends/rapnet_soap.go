package backends

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"gemfeed/internal/config"
	"gemfeed/internal/feeds"
	"gemfeed/internal/pipeline"
)

const (
	rapnetSOAPURL      = "https://technet.rapaport.com/webservices/RetailFeed/Feed.asmx"
	rapnetSOAPNS       = "http://technet.rapaport.com/"
	rapnetSOAPPageSize = 50
)

// RapNetSOAP pages through the older RapNet SOAP retail feed. Tickets expire
// quickly, so the pager renews them on a timer.
type RapNetSOAP struct{}

func (RapNetSOAP) Name() string { return "rapnet" }

func (b RapNetSOAP) Enabled(site config.Site) bool {
	return site.HasCredentials(b.Name(), "username", "password")
}

type soapEnvelope struct {
	XMLName xml.Name    `xml:"soap:Envelope"`
	Soap    string      `xml:"xmlns:soap,attr"`
	Header  *soapHeader `xml:"soap:Header,omitempty"`
	Body    soapBody    `xml:"soap:Body"`
}

type soapHeader struct {
	Ticket soapTicket `xml:"AuthenticationTicketHeader"`
}

type soapTicket struct {
	XMLNS  string `xml:"xmlns,attr"`
	Ticket string `xml:"Ticket"`
}

type soapBody struct {
	Content any
}

type soapLogin struct {
	XMLName  xml.Name `xml:"Login"`
	XMLNS    string   `xml:"xmlns,attr"`
	Username string   `xml:"Username"`
	Password string   `xml:"Password"`
}

type soapGetDiamonds struct {
	XMLName      xml.Name         `xml:"GetDiamonds"`
	XMLNS        string           `xml:"xmlns,attr"`
	SearchParams soapSearchParams `xml:"SearchParams"`
}

type soapSearchParams struct {
	PageNumber    int    `xml:"PageNumber"`
	PageSize      int    `xml:"PageSize"`
	SortBy        string `xml:"SortBy"`
	SortDirection string `xml:"SortDirection"`
	SizeFrom      string `xml:"SizeFrom,omitempty"`
	SizeTo        string `xml:"SizeTo,omitempty"`
	PriceFrom     string `xml:"PriceFrom,omitempty"`
	PriceTo       string `xml:"PriceTo,omitempty"`
}

type soapFault struct {
	Code   string `xml:"faultcode"`
	String string `xml:"faultstring"`
}

type anyElement struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

type table1 struct {
	Fields []anyElement `xml:",any"`
}

func (b RapNetSOAP) Fetch(ctx context.Context, env Env, yield func(Record) error) error {
	if path := env.localFile(b.Name(), ".xml"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSourceMissing, err)
		}
		records, err := decodeTable1(raw)
		if err != nil {
			return err
		}
		return yieldAll(records, yield)
	}

	username, password := env.setting("username"), env.setting("password")
	if username == "" || password == "" {
		return fmt.Errorf("%w: rapnet credentials", ErrSourceMissing)
	}

	ticket, err := rapnetLogin(ctx, env.Client, username, password)
	if err != nil {
		return err
	}

	prefs := env.Site.Prefs
	params := soapSearchParams{PageSize: rapnetSOAPPageSize, SortBy: "SIZE", SortDirection: "ASC"}
	if prefs.MinimumCaratWeight.IsPositive() {
		params.SizeFrom = prefs.MinimumCaratWeight.String()
	}
	if prefs.MaximumCaratWeight.IsPositive() {
		params.SizeTo = prefs.MaximumCaratWeight.String()
	}
	if prefs.MinimumPrice.IsPositive() {
		params.PriceFrom = prefs.MinimumPrice.String()
	}
	if prefs.MaximumPrice.IsPositive() {
		params.PriceTo = prefs.MaximumPrice.String()
	}

	pager := &feeds.Pager[Record]{
		Options: env.Paging,
		ID:      func(r Record) string { return r["DiamondID"] },
		Refresh: func(ctx context.Context) error {
			t, err := rapnetLogin(ctx, env.Client, username, password)
			if err != nil {
				return err
			}
			ticket = t
			return nil
		},
		Fetch: func(ctx context.Context, page int) (feeds.Page[Record], error) {
			params.PageNumber = page
			raw, err := soapCall(ctx, env.Client, "GetDiamonds", &soapHeader{Ticket: soapTicket{XMLNS: rapnetSOAPNS, Ticket: ticket}},
				soapGetDiamonds{XMLNS: rapnetSOAPNS, SearchParams: params})
			if err != nil {
				return feeds.Page[Record]{}, err
			}
			records, err := decodeTable1(raw)
			if err != nil {
				return feeds.Page[Record]{}, err
			}
			return feeds.Page[Record]{Items: records, More: len(records) > 0}, nil
		},
	}
	_, err = pager.Run(ctx, yield)
	return err
}

func rapnetLogin(ctx context.Context, client *feeds.Client, username, password string) (string, error) {
	raw, err := soapCall(ctx, client, "Login", nil, soapLogin{XMLNS: rapnetSOAPNS, Username: username, Password: password})
	if err != nil {
		return "", err
	}
	var resp struct {
		Header struct {
			Ticket struct {
				Ticket string `xml:"Ticket"`
			} `xml:"AuthenticationTicketHeader"`
		} `xml:"Header"`
	}
	if err := xml.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decode rapnet login: %w", err)
	}
	ticket := strings.TrimSpace(resp.Header.Ticket.Ticket)
	if ticket == "" {
		return "", fmt.Errorf("%w: rapnet login returned no ticket", ErrNotAuthorized)
	}
	return ticket, nil
}

func soapCall(ctx context.Context, client *feeds.Client, action string, header *soapHeader, content any) ([]byte, error) {
	env := soapEnvelope{
		Soap:   "http://schemas.xmlsoap.org/soap/envelope/",
		Header: header,
		Body:   soapBody{Content: content},
	}
	payload, err := xml.Marshal(env)
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	h.Set("Content-Type", "text/xml; charset=utf-8")
	h.Set("SOAPAction", `"`+rapnetSOAPNS+action+`"`)
	raw, err := client.Do(ctx, feeds.Request{Method: http.MethodPost, URL: rapnetSOAPURL, Header: h, Body: append([]byte(xml.Header), payload...)})
	if err != nil {
		var statusErr *feeds.StatusError
		if errors.As(err, &statusErr) {
			if fault := parseFault([]byte(statusErr.Body)); fault != "" {
				return nil, fmt.Errorf("rapnet soap %s: %s", action, fault)
			}
		}
		return nil, err
	}
	return raw, nil
}

func parseFault(raw []byte) string {
	var resp struct {
		Body struct {
			Fault *soapFault `xml:"Fault"`
		} `xml:"Body"`
	}
	if xml.Unmarshal(raw, &resp) != nil || resp.Body.Fault == nil {
		return ""
	}
	return resp.Body.Fault.String
}

// decodeTable1 collects every Table1 element in the document, wherever the
// service nests it.
func decodeTable1(raw []byte) ([]Record, error) {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	var out []Record
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("decode rapnet xml: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "Table1" {
			continue
		}
		var t table1
		if err := dec.DecodeElement(&t, &start); err != nil {
			return out, fmt.Errorf("decode Table1: %w", err)
		}
		rec := Record{}
		for _, f := range t.Fields {
			rec[f.XMLName.Local] = f.Value
		}
		out = append(out, rec)
	}
}

func (RapNetSOAP) Map(rec Record) (pipeline.Fields, error) {
	return pipeline.Fields{
		StockNumber:  rec["DiamondID"],
		Cut:          rec["ShapeTitle"],
		CutGrade:     rec["CutLongTitle"],
		Color:        rec["ColorTitle"],
		Clarity:      rec["ClarityTitle"],
		CaratWeight:  rec["Weight"],
		CaratPrice:   rec["FinalPrice"],
		Certifier:    rec["LabTitle"],
		CertNum:      rec["CertificateNumber"],
		DepthPercent: rec["DepthPercent"],
		TablePercent: rec["TablePercent"],
		Girdle:       joinGirdle(rec["GirdleSizeMin"], rec["GirdleSizeMax"]),
		Culet:        rec["CuletSizeTitle"],
		Polish:       rec["PolishTitle"],
		Symmetry:     rec["SymmetryTitle"],
		Fluorescence: rec["FluorescenceIntensityTitle"],
		Length:       rec["MeasLength"],
		Width:        rec["MeasWidth"],
		Depth:        rec["MeasDepth"],
	}, nil
}
