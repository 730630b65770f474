package importer

import (
	"bytes"
	"io"
	"unicode/utf16"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const (
	markerProbeSize = 8
	encodingSample  = 64 * 1024
)

// Encoding is the text encoding chosen for a source file.
type Encoding struct {
	Name string
	// BOM is true when a byte-order marker was found and is consumed by the
	// decoder.
	BOM bool

	enc encoding.Encoding
}

// NewReader wraps r so it yields UTF-8. Invalid input sequences become
// U+FFFD instead of failing the read.
func (e Encoding) NewReader(r io.Reader) io.Reader {
	if e.enc == nil {
		return r
	}
	return transform.NewReader(r, e.enc.NewDecoder())
}

func (e Encoding) String() string {
	return e.Name
}

var (
	encodingUTF8BOM    = Encoding{Name: "utf-8-sig", BOM: true, enc: unicode.UTF8BOM}
	encodingUTF16LEBOM = Encoding{Name: "utf-16le", BOM: true, enc: unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM)}
	encodingUTF16BEBOM = Encoding{Name: "utf-16be", BOM: true, enc: unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM)}
	encodingLatin1     = Encoding{Name: "latin-1", enc: charmap.ISO8859_1}
)

type encodingCandidate struct {
	encoding Encoding
	accepts  func(sample []byte, truncated bool) bool
}

// Tried in order when no marker is present. Latin-1 maps every byte, so the
// UTF-16 entries are only reached if it is ever removed from the list.
var encodingCandidates = []encodingCandidate{
	{encoding: Encoding{Name: "utf-8", enc: unicode.UTF8}, accepts: validUTF8},
	{encoding: Encoding{Name: "cp1252", enc: charmap.Windows1252}, accepts: validWindows1252},
	{encoding: encodingLatin1, accepts: func([]byte, bool) bool { return true }},
	{encoding: Encoding{Name: "utf-16", enc: unicode.UTF16(unicode.LittleEndian, unicode.UseBOM)}, accepts: validUTF16(false)},
	{encoding: Encoding{Name: "utf-16le", enc: unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)}, accepts: validUTF16(false)},
	{encoding: Encoding{Name: "utf-16be", enc: unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)}, accepts: validUTF16(true)},
}

// DetectEncoding picks a decoder for a file from its leading bytes. sample
// should hold the first 64 KiB of the file, or all of it when shorter;
// truncated reports whether the file continues past the sample. It never
// fails: the last resort is Latin-1, which preserves every byte.
func DetectEncoding(sample []byte, truncated bool) Encoding {
	head := sample
	if len(head) > markerProbeSize {
		head = head[:markerProbeSize]
	}

	switch {
	case bytes.HasPrefix(head, []byte{0xEF, 0xBB, 0xBF}):
		return encodingUTF8BOM
	case bytes.HasPrefix(head, []byte{0xFF, 0xFE}):
		return encodingUTF16LEBOM
	case bytes.HasPrefix(head, []byte{0xFE, 0xFF}):
		return encodingUTF16BEBOM
	}

	for _, candidate := range encodingCandidates {
		if candidate.accepts(sample, truncated) {
			return candidate.encoding
		}
	}
	return encodingLatin1
}

func validUTF8(sample []byte, truncated bool) bool {
	for i := 0; i < len(sample); {
		r, size := utf8.DecodeRune(sample[i:])
		if r == utf8.RuneError && size <= 1 {
			// A rune cut off by the sample boundary is not an error.
			return truncated && !utf8.FullRune(sample[i:])
		}
		i += size
	}
	return true
}

// validWindows1252 rejects the five byte values cp1252 leaves undefined.
func validWindows1252(sample []byte, _ bool) bool {
	for _, b := range sample {
		switch b {
		case 0x81, 0x8D, 0x8F, 0x90, 0x9D:
			return false
		}
	}
	return true
}

func validUTF16(bigEndian bool) func([]byte, bool) bool {
	return func(sample []byte, truncated bool) bool {
		if len(sample)%2 != 0 {
			if !truncated {
				return false
			}
			sample = sample[:len(sample)-1]
		}

		units := make([]uint16, 0, len(sample)/2)
		for i := 0; i+1 < len(sample); i += 2 {
			if bigEndian {
				units = append(units, uint16(sample[i])<<8|uint16(sample[i+1]))
			} else {
				units = append(units, uint16(sample[i+1])<<8|uint16(sample[i]))
			}
		}

		for i := 0; i < len(units); i++ {
			u := units[i]
			switch {
			case u >= 0xD800 && u < 0xDC00:
				if i+1 == len(units) {
					return truncated
				}
				if !utf16.IsSurrogate(rune(units[i+1])) || units[i+1] < 0xDC00 {
					return false
				}
				i++
			case u >= 0xDC00 && u < 0xE000:
				return false
			}
		}
		return true
	}
}
