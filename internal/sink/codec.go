package sink

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"gemfeed/internal"
)

// Null marks an absent nullable value in the spool.
const Null = "NULL"

// Columns is the positional layout of every spool line and of the diamonds
// table minus its surrogate key.
var Columns = []string{
	"added", "updated", "active", "source", "lot_num", "stock_number", "owner",
	"cut", "cut_grade", "color", "clarity", "carat_weight", "cost", "carat_price", "price",
	"certifier", "cert_num", "cert_image", "cert_image_local", "depth_percent", "table_percent",
	"girdle", "culet", "polish", "symmetry", "fluorescence", "fluorescence_color",
	"fancy_color", "fancy_color_intensity", "fancy_color_overtone",
	"length", "width", "depth", "comment", "city", "state", "country",
	"manmade", "laser_inscribed", "rap_date", "data",
}

var escaper = strings.NewReplacer(`\`, `\\`, "\t", `\t`, "\n", `\n`, "\r", `\r`)

// EncodeRow renders a row as one tab-separated, backslash-escaped line
// without the trailing newline.
func EncodeRow(row *internal.Diamond) string {
	fields := []string{
		stamp(row.Added),
		stamp(row.Updated),
		flag(row.Active),
		text(row.Source),
		text(row.LotNum),
		text(row.StockNumber),
		text(row.Owner),
		ref(row.Cut),
		ref(row.CutGrade),
		ref(row.Color),
		ref(row.Clarity),
		row.CaratWeight.String(),
		money(row.Cost),
		money(row.CaratPrice),
		money(row.Price),
		ref(row.Certifier),
		text(row.CertNum),
		text(row.CertImage),
		text(row.CertImageLocal),
		dec(row.DepthPercent),
		dec(row.TablePercent),
		text(row.Girdle),
		text(row.Culet),
		ref(row.Polish),
		ref(row.Symmetry),
		ref(row.Fluorescence),
		ref(row.FluorescenceColor),
		ref(row.FancyColor),
		ref(row.FancyColorIntensity),
		ref(row.FancyColorOvertone),
		dec(row.Length),
		dec(row.Width),
		dec(row.Depth),
		text(row.Comment),
		text(row.City),
		text(row.State),
		text(row.Country),
		flag(row.Manmade),
		flag(row.LaserInscribed),
		optionalStamp(row.RapDate),
		blob(row.Data),
	}
	return strings.Join(fields, "\t")
}

// nullText spells a literal "NULL" value so it never reads as the marker.
const nullText = `\x4EULL`

func text(s string) string {
	if s == Null {
		return nullText
	}
	return escaper.Replace(s)
}

// DecodeLine splits a spool line back into per-column values; nil means NULL.
func DecodeLine(line string) []*string {
	parts := strings.Split(line, "\t")
	out := make([]*string, len(parts))
	for i, p := range parts {
		if p == Null {
			continue
		}
		v := unescape(p)
		out[i] = &v
	}
	return out
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 == len(s) {
			b.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 't':
			b.WriteByte('\t')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 'x':
			if i+2 < len(s) {
				if v, err := strconv.ParseUint(s[i+1:i+3], 16, 8); err == nil {
					b.WriteByte(byte(v))
					i += 2
					continue
				}
			}
			b.WriteByte(s[i])
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func optionalStamp(t *time.Time) string {
	if t == nil {
		return Null
	}
	return stamp(*t)
}

func flag(v bool) string {
	if v {
		return "t"
	}
	return "f"
}

func ref(id *int64) string {
	if id == nil {
		return Null
	}
	return strconv.FormatInt(*id, 10)
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func dec(d *decimal.Decimal) string {
	if d == nil {
		return Null
	}
	return d.String()
}

func blob(data map[string]any) string {
	if len(data) == 0 {
		return Null
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return Null
	}
	return text(string(encoded))
}
