package ewf

import "github.com/laenix/goewf/internal/sections"

// Format identifies an EWF wire-format variant (spec.md §9 "Sparse
// big-switch by format enum" — resolved as a FormatProfile table).
type Format int

const (
	FormatEnCase1 Format = iota
	FormatEnCase2
	FormatEnCase3
	FormatEnCase4
	FormatEnCase5
	FormatEnCase6
	FormatSMART
	FormatLinen5
	FormatLinen6
	FormatLinen7
	FormatEWFX
	FormatLEF
)

// FormatProfile describes how one Format variant lays out a segment:
// which sections appear, in what order, and with which defaults.
type FormatProfile struct {
	// HeaderOrder lists the header-family sections emitted in the
	// HEADERS phase, in order, before the volume/disk section.
	HeaderOrder []sections.Kind

	// VolumeKind is "volume" for most variants, "disk" for SMART.
	VolumeKind sections.Kind

	HasHeader2  bool
	HasXHeader  bool
	HasDigest   bool
	HasXHash    bool
	HasSession  bool

	DefaultCodepage sections.Codepage
}

// Profiles maps every supported Format to its wire profile.
var Profiles = map[Format]FormatProfile{
	FormatEnCase1: {
		HeaderOrder:     []sections.Kind{sections.KindHeader},
		VolumeKind:      sections.KindVolume,
		DefaultCodepage: sections.CodepageASCII,
	},
	FormatEnCase2: {
		HeaderOrder:     []sections.Kind{sections.KindHeader},
		VolumeKind:      sections.KindVolume,
		DefaultCodepage: sections.CodepageASCII,
	},
	FormatEnCase3: {
		HeaderOrder:     []sections.Kind{sections.KindHeader, sections.KindHeader2},
		VolumeKind:      sections.KindVolume,
		HasHeader2:      true,
		DefaultCodepage: sections.CodepageASCII,
	},
	FormatEnCase4: {
		HeaderOrder:     []sections.Kind{sections.KindHeader, sections.KindHeader2},
		VolumeKind:      sections.KindVolume,
		HasHeader2:      true,
		HasDigest:       true,
		DefaultCodepage: sections.CodepageASCII,
	},
	FormatEnCase5: {
		HeaderOrder:     []sections.Kind{sections.KindHeader, sections.KindHeader2},
		VolumeKind:      sections.KindVolume,
		HasHeader2:      true,
		HasDigest:       true,
		HasSession:      true,
		DefaultCodepage: sections.CodepageASCII,
	},
	FormatEnCase6: {
		HeaderOrder:     []sections.Kind{sections.KindHeader, sections.KindHeader2},
		VolumeKind:      sections.KindVolume,
		HasHeader2:      true,
		HasDigest:       true,
		HasSession:      true,
		DefaultCodepage: sections.CodepageASCII,
	},
	FormatSMART: {
		HeaderOrder:     []sections.Kind{sections.KindHeader},
		VolumeKind:      sections.KindDisk,
		DefaultCodepage: sections.CodepageASCII,
	},
	FormatLinen5: {
		HeaderOrder:     []sections.Kind{sections.KindHeader, sections.KindHeader2},
		VolumeKind:      sections.KindVolume,
		HasHeader2:      true,
		HasDigest:       true,
		HasSession:      true,
		DefaultCodepage: sections.CodepageASCII,
	},
	FormatLinen6: {
		HeaderOrder:     []sections.Kind{sections.KindHeader, sections.KindHeader2, sections.KindXHeader},
		VolumeKind:      sections.KindVolume,
		HasHeader2:      true,
		HasXHeader:      true,
		HasDigest:       true,
		HasXHash:        true,
		HasSession:      true,
		DefaultCodepage: sections.CodepageASCII,
	},
	FormatLinen7: {
		HeaderOrder:     []sections.Kind{sections.KindHeader, sections.KindHeader2, sections.KindXHeader},
		VolumeKind:      sections.KindVolume,
		HasHeader2:      true,
		HasXHeader:      true,
		HasDigest:       true,
		HasXHash:        true,
		HasSession:      true,
		DefaultCodepage: sections.CodepageASCII,
	},
	FormatEWFX: {
		HeaderOrder:     []sections.Kind{sections.KindHeader, sections.KindHeader2, sections.KindXHeader},
		VolumeKind:      sections.KindVolume,
		HasHeader2:      true,
		HasXHeader:      true,
		HasDigest:       true,
		HasXHash:        true,
		HasSession:      true,
		DefaultCodepage: sections.CodepageASCII,
	},
	FormatLEF: {
		HeaderOrder:     []sections.Kind{sections.KindHeader2, sections.KindXHeader},
		VolumeKind:      sections.KindVolume,
		HasHeader2:      true,
		HasXHeader:      true,
		DefaultCodepage: sections.CodepageASCII,
	},
}

// Profile returns f's FormatProfile, defaulting to FormatEnCase6's if
// f is unrecognized.
func (f Format) Profile() FormatProfile {
	if p, ok := Profiles[f]; ok {
		return p
	}
	return Profiles[FormatEnCase6]
}

// maybeAutoUpgradeEnCase2 implements the observed-but-undocumented
// EnCase2->EnCase3 auto-upgrade (spec.md §9, decided in SPEC_FULL.md):
// when acquiry_software_version's leading digit is >= 3 while the
// configured format is EnCase2, the writer emits EnCase3 sections
// instead, when compat auto-upgrade is enabled.
func maybeAutoUpgradeEnCase2(format Format, acquirySoftwareVersion string, enabled bool) Format {
	if !enabled || format != FormatEnCase2 {
		return format
	}
	if len(acquirySoftwareVersion) == 0 {
		return format
	}
	leading := acquirySoftwareVersion[0]
	if leading >= '3' && leading <= '9' {
		return FormatEnCase3
	}
	return format
}
