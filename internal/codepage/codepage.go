// Package codepage converts legacy 8-bit text (ID3v1, and ID3v2 frames
// encoded as ISO-8859-1 that are actually a different 8-bit codepage) to
// UTF-8. It reuses golang.org/x/text's charmap tables rather than hand
// rolling a translation table, the way the rest of the pack reaches for
// golang.org/x/text for legacy encodings.
package codepage

import (
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// ID names a supported 8-bit codepage, used by the reader Config's
// CodePage field.
type ID int

const (
	// ISO88591 is the default when no codepage is configured: a no-op
	// decode since every byte maps 1:1 to the same Unicode codepoint.
	ISO88591 ID = iota
	CP1251 // Windows-1251, Cyrillic
	CP1252 // Windows-1252, Western European
	CP866  // DOS Cyrillic
	KOI8R  // KOI8-R, Cyrillic
)

func encodingFor(id ID) encoding.Encoding {
	switch id {
	case CP1251:
		return charmap.Windows1251
	case CP1252:
		return charmap.Windows1252
	case CP866:
		return charmap.CodePage866
	case KOI8R:
		return charmap.KOI8R
	default:
		return charmap.ISO8859_1
	}
}

// ToUTF8 decodes b (8-bit text in the given codepage) to a UTF-8 string. It
// never errors: every byte in every supported codepage maps to some
// Unicode codepoint, so decode failures are not part of this contract.
func ToUTF8(b []byte, id ID) string {
	out, err := encodingFor(id).NewDecoder().Bytes(b)
	if err != nil {
		// charmap decoders are total functions over byte values
		return string(b)
	}
	return string(out)
}
