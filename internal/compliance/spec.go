package compliance

type ColorSpace string

const (
	ColorSpaceCMYK ColorSpace = "CMYK"
	ColorSpaceRGB  ColorSpace = "RGB"
)

type TrimUnit string

const (
	TrimUnitMM   TrimUnit = "mm"
	TrimUnitInch TrimUnit = "in"
)

// TrimBox is the finished page size after cutting.
type TrimBox struct {
	Width  float64  `json:"width"`
	Height float64  `json:"height"`
	Unit   TrimUnit `json:"unit"`
}

type PrintMarks struct {
	CropMarks         bool `json:"crop_marks"`
	RegistrationMarks bool `json:"registration_marks"`
	ColorBars         bool `json:"color_bars"`
	PageInfo          bool `json:"page_info"`
}

// QualitySpec is the quality contract attached to a print job. It is fixed
// at order time and never mutated afterwards.
type QualitySpec struct {
	ColorSpace       ColorSpace `json:"color_space"`
	ICCProfile       string     `json:"icc_profile"`
	ResolutionDPI    int        `json:"resolution_dpi"`
	PaperType        string     `json:"paper_type"`
	PaperCert        string     `json:"paper_cert"`
	BleedMM          float64    `json:"bleed_mm"`
	TrimBox          TrimBox    `json:"trim_box"`
	Marks            PrintMarks `json:"marks"`
	StrictCompliance bool       `json:"strict_compliance"`
	PageFormats      []string   `json:"page_formats"`
}

// PaperStock is a paper offering advertised by a printer, carrying the
// certification tag used for the forestry check.
type PaperStock struct {
	Type string `json:"type"`
	Cert string `json:"cert"`
}
