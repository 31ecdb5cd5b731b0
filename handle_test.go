package ewf

import "testing"

// A freshly-created write handle exposes no digest until finalized.
func TestMD5MissingBeforeFinalize(t *testing.T) {
	base := tempBasename(t)

	media := Media{BytesPerSector: 512, TotalSectors: 64}
	h, err := Create(base, media, DefaultWriteConfig())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer h.Close()

	if _, err := h.MD5(); err == nil {
		t.Fatalf("MD5 before finalize: want error, got nil")
	} else if KindOf(err) != KindValueMissing {
		t.Fatalf("MD5 before finalize kind = %v, want KindValueMissing", KindOf(err))
	}
}

// A read handle whose header sections were written without a "notes"
// value reports ValueMissing for that key.
func TestHeaderValueMissing(t *testing.T) {
	base := tempBasename(t)
	media := Media{BytesPerSector: 512, TotalSectors: 64}

	h, err := Create(base, media, DefaultWriteConfig())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := h.Write(make([]byte, 32768)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rh, err := OpenRead(base, Config{})
	if err != nil {
		t.Fatalf("OpenRead: %v", err)
	}
	defer rh.Close()

	if _, err := rh.HeaderValue("notes"); err == nil {
		t.Fatalf("HeaderValue(notes): want error, got nil")
	} else if KindOf(err) != KindValueMissing {
		t.Fatalf("HeaderValue(notes) kind = %v, want KindValueMissing", KindOf(err))
	}
}

// Setting and reading back a header value round-trips through
// SetHeaderValue/HeaderValue prior to any write.
func TestSetHeaderValueRoundTrip(t *testing.T) {
	base := tempBasename(t)
	media := Media{BytesPerSector: 512, TotalSectors: 64}

	h, err := Create(base, media, DefaultWriteConfig())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer h.Close()

	if err := h.SetHeaderValue("case_number", "2026-07-29-01"); err != nil {
		t.Fatalf("SetHeaderValue: %v", err)
	}
	got, err := h.HeaderValue("case_number")
	if err != nil {
		t.Fatalf("HeaderValue: %v", err)
	}
	if got != "2026-07-29-01" {
		t.Fatalf("HeaderValue = %q, want %q", got, "2026-07-29-01")
	}
}

// A header value set before the first Write survives a close and
// reopen: header_values must still be mutable when Create returns,
// since the header sections aren't serialized until the body begins.
func TestSetHeaderValuePersistsAcrossReopen(t *testing.T) {
	base := tempBasename(t)
	media := Media{BytesPerSector: 512, TotalSectors: 64}

	h, err := Create(base, media, DefaultWriteConfig())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := h.SetHeaderValue("case_number", "2026-07-29-01"); err != nil {
		t.Fatalf("SetHeaderValue: %v", err)
	}
	if err := h.SetHeaderValue("examiner_name", "a. examiner"); err != nil {
		t.Fatalf("SetHeaderValue: %v", err)
	}
	if _, err := h.Write(make([]byte, 32768)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// Once the body has begun, header values are locked in: a change
	// here must not reach the sections already serialized to disk.
	if err := h.SetHeaderValue("case_number", "should-not-persist"); err == nil {
		t.Fatalf("SetHeaderValue after first write: want StateImmutable, got nil")
	} else if KindOf(err) != KindStateImmutable {
		t.Fatalf("SetHeaderValue after first write kind = %v, want KindStateImmutable", KindOf(err))
	}

	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rh, err := OpenRead(base, Config{})
	if err != nil {
		t.Fatalf("OpenRead: %v", err)
	}
	defer rh.Close()

	if got, err := rh.HeaderValue("case_number"); err != nil {
		t.Fatalf("HeaderValue(case_number): %v", err)
	} else if got != "2026-07-29-01" {
		t.Fatalf("HeaderValue(case_number) = %q, want %q", got, "2026-07-29-01")
	}
	if got, err := rh.HeaderValue("examiner_name"); err != nil {
		t.Fatalf("HeaderValue(examiner_name): %v", err)
	} else if got != "a. examiner" {
		t.Fatalf("HeaderValue(examiner_name) = %q, want %q", got, "a. examiner")
	}
}

// SetGUID rejects fewer than 16 bytes (spec.md §9, resolved).
func TestSetGUIDShortInput(t *testing.T) {
	base := tempBasename(t)
	media := Media{BytesPerSector: 512, TotalSectors: 64}

	h, err := Create(base, media, DefaultWriteConfig())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer h.Close()

	err = h.SetGUID(make([]byte, 15))
	if err == nil {
		t.Fatalf("SetGUID with 15 bytes: want error, got nil")
	}
	if KindOf(err) != KindArgumentOutOfRange {
		t.Fatalf("SetGUID short input kind = %v, want KindArgumentOutOfRange", KindOf(err))
	}
}

// A handle's State() transitions Closed -> OpenWrite -> Finalized
// across Create/Close.
func TestStateTransitions(t *testing.T) {
	base := tempBasename(t)
	media := Media{BytesPerSector: 512, TotalSectors: 64}

	h, err := Create(base, media, DefaultWriteConfig())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if h.State() != StateOpenWrite {
		t.Fatalf("State after Create = %v, want StateOpenWrite", h.State())
	}
	if _, err := h.Write(make([]byte, 32768)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if h.State() != StateFinalized {
		t.Fatalf("State after Close = %v, want StateFinalized", h.State())
	}
}
