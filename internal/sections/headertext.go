package sections

import (
	"bytes"
	"compress/zlib"
	"io"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"

	"github.com/laenix/goewf/internal/values"
)

// Codepage selects the legacy `header` section's text encoding.
// Header-value text encoding is an out-of-scope collaborator per
// spec.md §1; this enumerates the set spec.md §9 says to accept
// (the "OR-bug" open question resolved as an allow-list).
type Codepage string

const (
	CodepageASCII  Codepage = "ascii"
	CodepageCP1250 Codepage = "windows-1250"
	CodepageCP1251 Codepage = "windows-1251"
	CodepageCP1252 Codepage = "windows-1252"
	CodepageCP1253 Codepage = "windows-1253"
	CodepageCP1254 Codepage = "windows-1254"
	CodepageCP1256 Codepage = "windows-1256"
	CodepageCP1257 Codepage = "windows-1257"
)

var codepageEncodings = map[Codepage]encoding.Encoding{
	CodepageCP1250: charmap.Windows1250,
	CodepageCP1251: charmap.Windows1251,
	CodepageCP1252: charmap.Windows1252,
	CodepageCP1253: charmap.Windows1253,
	CodepageCP1254: charmap.Windows1254,
	CodepageCP1256: charmap.Windows1256,
	CodepageCP1257: charmap.Windows1257,
}

// ErrUnsupportedCodepage is returned for any codepage not in the
// enumerated allow-list.
var ErrUnsupportedCodepage = errors.New("sections: unsupported header codepage")

// IsSupportedCodepage reports whether cp is one of the accepted
// codepages (spec.md §9: the source's `||` chain is a bug for an
// intended membership test; this is the corrected membership test).
func IsSupportedCodepage(cp Codepage) bool {
	if cp == CodepageASCII {
		return true
	}
	_, ok := codepageEncodings[cp]
	return ok
}

// headerLines renders values as the classic tab-separated
// key-row/value-row body used by the `header`/`header2` sections.
func headerLines(v *values.Table) string {
	keys := v.Keys()
	vals := make([]string, len(keys))
	for i, k := range keys {
		val, _ := v.GetByName(k)
		vals[i] = val
	}
	var sb strings.Builder
	sb.WriteString("1\n")
	sb.WriteString("main\n")
	sb.WriteString(strings.Join(keys, "\t"))
	sb.WriteString("\n")
	sb.WriteString(strings.Join(vals, "\t"))
	sb.WriteString("\n\n")
	return sb.String()
}

func parseHeaderLines(text string) *values.Table {
	out := values.New()
	lines := strings.Split(text, "\n")
	var keys []string
	for i := 0; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) != "main" {
			continue
		}
		if i+2 >= len(lines) {
			break
		}
		keys = strings.Split(lines[i+1], "\t")
		vals := strings.Split(lines[i+2], "\t")
		for j, k := range keys {
			if j >= len(vals) {
				break
			}
			out.SetByName(k, vals[j])
		}
		break
	}
	return out
}

// EncodeHeader renders values to the legacy codepage-encoded, zlib
// compressed `header` section payload.
func EncodeHeader(v *values.Table, cp Codepage) ([]byte, error) {
	text := headerLines(v)

	var textBytes []byte
	if cp == CodepageASCII || cp == "" {
		textBytes = []byte(text)
	} else {
		enc, ok := codepageEncodings[cp]
		if !ok {
			return nil, ErrUnsupportedCodepage
		}
		b, err := enc.NewEncoder().Bytes([]byte(text))
		if err != nil {
			return nil, errors.Wrap(err, "sections: encode header codepage")
		}
		textBytes = b
	}

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(textBytes); err != nil {
		zw.Close()
		return nil, errors.Wrap(err, "sections: deflate header")
	}
	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(err, "sections: deflate header")
	}
	return buf.Bytes(), nil
}

// DecodeHeader inflates and decodes a `header` section payload of
// payloadSize bytes, read from r, back into a values.Table.
func DecodeHeader(r io.Reader, payloadSize int, cp Codepage) (*values.Table, error) {
	compressed := make([]byte, payloadSize)
	if _, err := io.ReadFull(r, compressed); err != nil {
		return nil, errors.Wrap(err, "sections: read header payload")
	}
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, errors.Wrap(err, "sections: inflate header")
	}
	defer zr.Close()
	var raw bytes.Buffer
	if _, err := raw.ReadFrom(zr); err != nil {
		return nil, errors.Wrap(err, "sections: inflate header")
	}

	text := raw.String()
	if cp != CodepageASCII && cp != "" {
		enc, ok := codepageEncodings[cp]
		if !ok {
			return nil, ErrUnsupportedCodepage
		}
		decoded, err := enc.NewDecoder().String(raw.String())
		if err != nil {
			return nil, errors.Wrap(err, "sections: decode header codepage")
		}
		text = decoded
	}
	return parseHeaderLines(text), nil
}

// EncodeHeader2 renders values as the UTF-16LE `header2` payload: a
// byte-order-mark followed by the same tab-separated body, zlib
// compressed.
func EncodeHeader2(v *values.Table) ([]byte, error) {
	text := headerLines(v)
	utf16le := unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM)
	encoded, err := utf16le.NewEncoder().Bytes([]byte(text))
	if err != nil {
		return nil, errors.Wrap(err, "sections: encode header2 utf-16")
	}

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(encoded); err != nil {
		zw.Close()
		return nil, errors.Wrap(err, "sections: deflate header2")
	}
	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(err, "sections: deflate header2")
	}
	return buf.Bytes(), nil
}

// DecodeHeader2 inflates and decodes a `header2` section payload.
func DecodeHeader2(r io.Reader, payloadSize int) (*values.Table, error) {
	compressed := make([]byte, payloadSize)
	if _, err := io.ReadFull(r, compressed); err != nil {
		return nil, errors.Wrap(err, "sections: read header2 payload")
	}
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, errors.Wrap(err, "sections: inflate header2")
	}
	defer zr.Close()
	var raw bytes.Buffer
	if _, err := raw.ReadFrom(zr); err != nil {
		return nil, errors.Wrap(err, "sections: inflate header2")
	}

	utf16le := unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM)
	decoded, err := utf16le.NewDecoder().Bytes(raw.Bytes())
	if err != nil {
		return nil, errors.Wrap(err, "sections: decode header2 utf-16")
	}
	return parseHeaderLines(string(decoded)), nil
}
