package parser

import (
	"bytes"
	"compress/zlib"
	"io"
	"regexp"
)

var streamRe = regexp.MustCompile(`(?s)stream\r?\n(.*?)endstream`)

// DetectPDFType classifies a PDF as digital (extractable text) or scanned
// (image-only). A digital PDF declares fonts and carries text-show operators
// in at least one content stream; a scanned PDF is pages of embedded images.
func DetectPDFType(data []byte) PDFType {
	if !bytes.Contains(data, []byte("/Font")) {
		return PDFTypeScanned
	}
	// Text operators may sit in plain or flate-compressed streams.
	if hasTextOperators(data) {
		return PDFTypeDigital
	}
	for _, m := range streamRe.FindAllSubmatch(data, 32) {
		if decoded, ok := inflate(m[1]); ok && hasTextOperators(decoded) {
			return PDFTypeDigital
		}
	}
	return PDFTypeScanned
}

func hasTextOperators(b []byte) bool {
	if !bytes.Contains(b, []byte("BT")) {
		return false
	}
	return bytes.Contains(b, []byte("Tj")) || bytes.Contains(b, []byte("TJ"))
}

func inflate(b []byte) ([]byte, bool) {
	r, err := zlib.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, false
	}
	defer r.Close()
	out, err := io.ReadAll(io.LimitReader(r, 4<<20))
	if err != nil && len(out) == 0 {
		return nil, false
	}
	return out, true
}
