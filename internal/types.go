package internal

import (
	"time"

	"github.com/shopspring/decimal"
)

type PriceMode string

const (
	PriceByCost        PriceMode = "price"
	PriceByCaratWeight PriceMode = "carat_weight"
)

// Reference table names. These double as the keys reported for missing aliases.
const (
	TableCut                 = "cut"
	TableColor               = "color"
	TableClarity             = "clarity"
	TableGrading             = "grading"
	TableFluorescence        = "fluorescence"
	TableFluorescenceColor   = "fluorescence_color"
	TableCertifier           = "certifier"
	TableFancyColor          = "fancy_color"
	TableFancyColorIntensity = "fancy_color_intensity"
	TableFancyColorOvertone  = "fancy_color_overtone"
)

var ReferenceTableNames = []string{
	TableCut, TableColor, TableClarity, TableGrading, TableFluorescence, TableFluorescenceColor,
	TableCertifier, TableFancyColor, TableFancyColorIntensity, TableFancyColorOvertone,
}

type ReferenceEntry struct {
	ID       int64  `yaml:"-"`
	Abbr     string `yaml:"abbr"`
	Name     string `yaml:"name"`
	Aliases  string `yaml:"aliases"`
	Disabled bool   `yaml:"disabled"`
}

type MarkupBand struct {
	Lower   decimal.Decimal
	Upper   decimal.Decimal
	Percent decimal.Decimal
}

// Diamond is one canonical listing row ready for the sink.
type Diamond struct {
	Added          time.Time
	Updated        time.Time
	Active         bool
	Source         string
	LotNum         string
	StockNumber    string
	Owner          string
	Cut            *int64
	CutGrade       *int64
	Color          *int64
	Clarity        *int64
	CaratWeight    decimal.Decimal
	Cost           decimal.Decimal
	CaratPrice     decimal.Decimal
	Price          decimal.Decimal
	Certifier      *int64
	CertNum        string
	CertImage      string
	CertImageLocal string
	DepthPercent   *decimal.Decimal
	TablePercent   *decimal.Decimal
	Girdle         string
	Culet          string
	Polish         *int64
	Symmetry       *int64
	Fluorescence   *int64

	FluorescenceColor   *int64
	FancyColor          *int64
	FancyColorIntensity *int64
	FancyColorOvertone  *int64

	Length         *decimal.Decimal
	Width          *decimal.Decimal
	Depth          *decimal.Decimal
	Comment        string
	City           string
	State          string
	Country        string
	Manmade        bool
	LaserInscribed bool
	RapDate        *time.Time
	Data           map[string]any
}

// DiamondUpdate carries the subset of columns refreshed on an existing listing.
type DiamondUpdate struct {
	StockNumber string
	Active      bool
	Price       decimal.Decimal
	CaratPrice  decimal.Decimal
	Certifier   *int64
	Data        map[string]any
}

type ImportRun struct {
	RunID          string
	Site           string
	Source         string
	Started        time.Time
	Finished       time.Time
	Successes      int
	Inserted       int
	Updated        int
	Deactivated    int
	Deleted        int
	Skips          int
	Errors         int
	SkipReasons    map[string]int
	ErrorReasons   map[string]int
	MissingAliases map[string]int
	Fatal          string
}

type FetchedMailMessage struct {
	Provider   string
	MessageID  string
	Subject    string
	From       string
	ReceivedAt string
	Raw        []byte
}

type FeedMessage struct {
	ID         int
	Provider   string
	MessageID  string
	Subject    string
	Sender     string
	ReceivedAt string
	Hash       string
	Status     string
	RawRef     string
}
