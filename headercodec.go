package ewf

import (
	"bytes"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"

	"github.com/laenix/goewf/internal/sections"
	"github.com/laenix/goewf/internal/values"
)

// encodeXHeader renders v as the zlib-compressed UTF-8 XML blob used
// by the `xheader` section (spec.md §6.1, SPEC_FULL.md component O).
func encodeXHeader(v *values.Table) ([]byte, error) {
	xmlBytes := marshalValuesXML("xheader", v)
	var buf bytes.Buffer
	if err := sections.WriteCompressedBlob(&buf, xmlBytes); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeXHeader parses an `xheader` payload back into a values.Table.
// payloadSize is the full section payload (compressed blob plus its
// trailing 4-byte Adler-32, per sections.WriteCompressedBlob).
func decodeXHeader(r io.Reader, payloadSize int) (*values.Table, error) {
	raw, err := sections.ReadCompressedBlob(r, payloadSize-4)
	if err != nil {
		return nil, err
	}
	return unmarshalValuesXML(raw)
}

// encodeXHash renders the handle's hash values (plus the computed
// MD5/SHA-1 digests) as the `xhash` section's XML blob.
func encodeXHash(h *Handle) ([]byte, error) {
	v := values.New()
	if h.hashVals != nil {
		for _, k := range h.hashVals.Keys() {
			val, _ := h.hashVals.GetByName(k)
			v.SetByName(k, val)
		}
	}
	if h.haveDigest {
		v.SetByName("MD5", hex.EncodeToString(h.md5Digest[:]))
		v.SetByName("SHA1", hex.EncodeToString(h.sha1Digest[:]))
	}

	xmlBytes := marshalValuesXML("xhash", v)
	var buf bytes.Buffer
	if err := sections.WriteCompressedBlob(&buf, xmlBytes); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeXHash parses an `xhash` payload back into a values.Table.
// payloadSize is the full section payload (compressed blob plus its
// trailing 4-byte Adler-32, per sections.WriteCompressedBlob).
func decodeXHash(r io.Reader, payloadSize int) (*values.Table, error) {
	raw, err := sections.ReadCompressedBlob(r, payloadSize-4)
	if err != nil {
		return nil, err
	}
	return unmarshalValuesXML(raw)
}

func marshalValuesXML(root string, v *values.Table) []byte {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	fmt.Fprintf(&buf, "<%s>\n", root)
	for _, k := range v.Keys() {
		val, _ := v.GetByName(k)
		fmt.Fprintf(&buf, "\t<%s>", k)
		xml.EscapeText(&buf, []byte(val))
		fmt.Fprintf(&buf, "</%s>\n", k)
	}
	fmt.Fprintf(&buf, "</%s>\n", root)
	return buf.Bytes()
}

// unmarshalValuesXML walks an arbitrary-element XML document one level
// deep, collecting each child element's text content by tag name. This
// avoids needing a fixed Go struct for the open-ended header/hash key
// set (spec.md §3 "Header values").
func unmarshalValuesXML(data []byte) (*values.Table, error) {
	out := values.New()
	dec := xml.NewDecoder(bytes.NewReader(data))

	depth := 0
	var currentKey string
	var currentText bytes.Buffer

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if depth == 2 {
				currentKey = t.Name.Local
				currentText.Reset()
			}
		case xml.CharData:
			if depth == 2 {
				currentText.Write(t)
			}
		case xml.EndElement:
			if depth == 2 && currentKey != "" {
				out.SetByName(currentKey, currentText.String())
				currentKey = ""
			}
			depth--
		}
	}
	return out, nil
}
