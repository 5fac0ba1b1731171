package pipeline

// Fields is the raw, uncleaned value bag a backend extracts from one vendor
// record. Every string is passed through the cleaner before use.
type Fields struct {
	StockNumber string
	LotNum      string
	Owner       string

	Cut         string
	CutGrade    string
	Color       string
	Clarity     string
	CaratWeight string

	// TotalPrice wins over CaratPrice when both are present.
	TotalPrice string
	CaratPrice string

	Certifier string
	CertNum   string
	CertImage string

	DepthPercent string
	TablePercent string
	Girdle       string
	Culet        string
	Polish       string
	Symmetry     string

	Fluorescence      string
	FluorescenceColor string

	FancyColor          string
	FancyColorIntensity string
	FancyColorOvertone  string

	// Measurements is split into Length, Width and Depth when those are empty.
	Measurements string
	Length       string
	Width        string
	Depth        string

	Comment string
	City    string
	State   string
	Country string
	RapDate string

	LabGrown       bool
	LaserInscribed bool
	Inactive       bool

	Data map[string]any
}
