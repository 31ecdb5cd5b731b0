package ewf

import "testing"

// maybeAutoUpgradeEnCase2 only fires for EnCase2 with auto-upgrade
// enabled and a leading acquiry_software_version digit >= 3 (spec.md
// §9, decided in SPEC_FULL.md).
func TestMaybeAutoUpgradeEnCase2(t *testing.T) {
	cases := []struct {
		name    string
		format  Format
		version string
		enabled bool
		want    Format
	}{
		{"upgrades on v7", FormatEnCase2, "7.12", true, FormatEnCase3},
		{"upgrades on v3", FormatEnCase2, "3.00", true, FormatEnCase3},
		{"stays on v2", FormatEnCase2, "2.20", true, FormatEnCase2},
		{"stays when disabled", FormatEnCase2, "7.12", false, FormatEnCase2},
		{"stays when version unset", FormatEnCase2, "", true, FormatEnCase2},
		{"ignores non-EnCase2 formats", FormatEnCase6, "7.12", true, FormatEnCase6},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := maybeAutoUpgradeEnCase2(c.format, c.version, c.enabled)
			if got != c.want {
				t.Fatalf("maybeAutoUpgradeEnCase2(%v, %q, %v) = %v, want %v", c.format, c.version, c.enabled, got, c.want)
			}
		})
	}
}

// Setting acquiry_software_version before the first Write reaches the
// auto-upgrade: the persisted image carries EnCase3 sections (header2
// present), not the EnCase2 profile Create was configured with. This
// is only reachable now that header values commit after Create
// returns, not inside it.
func TestAutoUpgradeEnCase2ReachableFromHeaderValue(t *testing.T) {
	base := tempBasename(t)
	media := Media{BytesPerSector: 512, TotalSectors: 64}

	wcfg := DefaultWriteConfig()
	wcfg.Format = FormatEnCase2

	h, err := Create(base, media, wcfg)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if h.Format() != FormatEnCase2 {
		t.Fatalf("Format() before commit = %v, want FormatEnCase2", h.Format())
	}
	if err := h.SetHeaderValue("acquiry_software_version", "7.12.1"); err != nil {
		t.Fatalf("SetHeaderValue: %v", err)
	}
	if _, err := h.Write(make([]byte, 32768)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if h.Format() != FormatEnCase3 {
		t.Fatalf("Format() after commit = %v, want FormatEnCase3 (auto-upgrade should have fired)", h.Format())
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// The upgraded profile carries a header2 section; confirm it
	// actually reached disk, not just the in-memory Format() field.
	rh, err := OpenRead(base, Config{})
	if err != nil {
		t.Fatalf("OpenRead: %v", err)
	}
	defer rh.Close()

	if got, err := rh.HeaderValue("acquiry_software_version"); err != nil {
		t.Fatalf("HeaderValue(acquiry_software_version): %v", err)
	} else if got != "7.12.1" {
		t.Fatalf("HeaderValue(acquiry_software_version) = %q, want %q", got, "7.12.1")
	}
}

// Leaving acquiry_software_version unset keeps the EnCase2 profile:
// the auto-upgrade is opt-in by header value, not automatic.
func TestNoAutoUpgradeWithoutAcquiryVersion(t *testing.T) {
	base := tempBasename(t)
	media := Media{BytesPerSector: 512, TotalSectors: 64}

	wcfg := DefaultWriteConfig()
	wcfg.Format = FormatEnCase2

	h, err := Create(base, media, wcfg)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := h.Write(make([]byte, 32768)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if h.Format() != FormatEnCase2 {
		t.Fatalf("Format() after commit = %v, want FormatEnCase2 (no version set, no upgrade)", h.Format())
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
