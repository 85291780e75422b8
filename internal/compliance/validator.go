package compliance

import "fmt"

// Industry minimums. These are fixed by the governing standards, not
// deployment configuration.
const (
	MandatedColorSpace    = ColorSpaceCMYK
	MinResolutionDPI      = 300
	MinBleedMM            = 3.0
	RequiredPaperCert     = "FSC"
	MinColorAccuracyScore = 90.0
)

// PrinterProfile is the slice of printer capability data the preflight check
// needs. Kept here so the validator stays free of fleet imports.
type PrinterProfile struct {
	MeasuredDPI      int
	ColorAccuracy    float64
	ColorMgmtOK      bool
	ResolutionOK     bool
	BleedOK          bool
	ColorProfiles    []string
	PaperStocks      []PaperStock
	SupportedFormats []string
}

// Validate checks a quality spec against the fixed industry minimums.
// It has no side effects and is safe to call concurrently.
func Validate(spec QualitySpec) (bool, []string) {
	var violations []string

	if spec.ColorSpace != MandatedColorSpace {
		violations = append(violations, "color space must be CMYK per color-management standard")
	}

	if spec.ResolutionDPI < MinResolutionDPI {
		violations = append(violations,
			fmt.Sprintf("resolution %d DPI is below the %d DPI minimum required by the resolution standard", spec.ResolutionDPI, MinResolutionDPI))
	}

	if spec.BleedMM < MinBleedMM {
		violations = append(violations,
			fmt.Sprintf("bleed %.1f mm is below the %.1f mm minimum required by the bleed standard", spec.BleedMM, MinBleedMM))
	}

	if spec.PaperCert != RequiredPaperCert {
		violations = append(violations,
			fmt.Sprintf("paper type %q lacks the required %s forestry certification", spec.PaperType, RequiredPaperCert))
	}

	return len(violations) == 0, violations
}

// ValidateForPrinter is the preflight check: the spec is re-validated against
// the assigned printer's advertised capabilities rather than the abstract
// minimums. Both checks must pass independently over a job's lifetime.
func ValidateForPrinter(spec QualitySpec, profile PrinterProfile) (bool, []string) {
	var violations []string

	if !profile.ColorMgmtOK {
		violations = append(violations, "printer does not attest color-management compliance")
	}
	if !profile.ResolutionOK {
		violations = append(violations, "printer does not attest resolution compliance")
	}
	if !profile.BleedOK {
		violations = append(violations, "printer does not attest bleed compliance")
	}

	if profile.MeasuredDPI < spec.ResolutionDPI {
		violations = append(violations,
			fmt.Sprintf("printer measured %d DPI but the job requires %d DPI", profile.MeasuredDPI, spec.ResolutionDPI))
	}

	if profile.ColorAccuracy < MinColorAccuracyScore {
		violations = append(violations,
			fmt.Sprintf("printer color accuracy %.1f is below the %.0f floor", profile.ColorAccuracy, MinColorAccuracyScore))
	}

	if spec.ICCProfile != "" && len(profile.ColorProfiles) > 0 && !contains(profile.ColorProfiles, spec.ICCProfile) {
		violations = append(violations,
			fmt.Sprintf("printer does not support ICC profile %q", spec.ICCProfile))
	}

	if spec.PaperType != "" && !hasCertifiedStock(profile.PaperStocks, spec.PaperType, RequiredPaperCert) {
		violations = append(violations,
			fmt.Sprintf("printer does not stock %s-certified paper type %q", RequiredPaperCert, spec.PaperType))
	}

	for _, format := range spec.PageFormats {
		if !contains(profile.SupportedFormats, format) {
			violations = append(violations,
				fmt.Sprintf("printer does not support page format %q", format))
		}
	}

	return len(violations) == 0, violations
}

func contains(set []string, want string) bool {
	for _, s := range set {
		if s == want {
			return true
		}
	}
	return false
}

func hasCertifiedStock(stocks []PaperStock, paperType, cert string) bool {
	for _, s := range stocks {
		if s.Type == paperType && s.Cert == cert {
			return true
		}
	}
	return false
}
