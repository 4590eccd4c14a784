// Package tagid defines the normalized tag identifier space shared by every
// tag codec (APEv2, ID3v1, ID3v2, Vorbis Comments, MP4 ilst, RIFF INFO,
// Matroska SimpleTag). A codec maps its own field names onto this closed
// enum so callers can consume metadata without knowing which container it
// came from.
package tagid

// ID is a normalized tag field, independent of the container format that
// carried it.
type ID int

const (
	Unknown ID = iota
	Vendor
	Artist
	AlbumArtist
	Album
	Title
	Date
	Genre
	TrackNo
	TrackTotal
	DiscNumber
	DiscTotal
	Comment
	Composer
	Publisher
	Lyrics
	Copyright
	ReplayGainTrackGain
	ReplayGainTrackPeak
	ReplayGainAlbumGain
	ReplayGainAlbumPeak
	Picture
	Encoder
	Language
	BPM
	Conductor
	OriginalArtist
)

var names = [...]string{
	Unknown:              "Unknown",
	Vendor:                "Vendor",
	Artist:                "Artist",
	AlbumArtist:           "AlbumArtist",
	Album:                 "Album",
	Title:                 "Title",
	Date:                  "Date",
	Genre:                 "Genre",
	TrackNo:               "TrackNo",
	TrackTotal:            "TrackTotal",
	DiscNumber:            "DiscNumber",
	DiscTotal:             "DiscTotal",
	Comment:               "Comment",
	Composer:              "Composer",
	Publisher:             "Publisher",
	Lyrics:                "Lyrics",
	Copyright:             "Copyright",
	ReplayGainTrackGain:   "ReplayGainTrackGain",
	ReplayGainTrackPeak:   "ReplayGainTrackPeak",
	ReplayGainAlbumGain:   "ReplayGainAlbumGain",
	ReplayGainAlbumPeak:   "ReplayGainAlbumPeak",
	Picture:               "Picture",
	Encoder:               "Encoder",
	Language:              "Language",
	BPM:                   "BPM",
	Conductor:             "Conductor",
	OriginalArtist:        "OriginalArtist",
}

// String renders the tag id's name, or "Unknown" for values outside the
// known range (never out-of-bounds panics on malformed input).
func (id ID) String() string {
	if int(id) < 0 || int(id) >= len(names) {
		return "Unknown"
	}
	return names[id]
}

// sortedAlias is one (lowercase alias, ID) pair in a table sorted by alias,
// used by every codec's case-insensitive name lookup (APEv2, Vorbis
// Comments) via Lookup below.
type sortedAlias struct {
	alias string
	id    ID
}

// Lookup performs a case-insensitive binary search of name against table.
// table must be sorted by alias ascending; callers build their table once
// at package init via NewTable.
func Lookup(table []sortedAlias, name string) ID {
	lo, hi := 0, len(table)
	low := toLower(name)
	for lo < hi {
		mid := (lo + hi) / 2
		if table[mid].alias < low {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(table) && table[lo].alias == low {
		return table[lo].id
	}
	return Unknown
}

// NewTable builds a Lookup table from an alias->ID map, sorting it once.
func NewTable(m map[string]ID) []sortedAlias {
	table := make([]sortedAlias, 0, len(m))
	for alias, id := range m {
		table = append(table, sortedAlias{alias: toLower(alias), id: id})
	}
	sortAliases(table)
	return table
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func sortAliases(table []sortedAlias) {
	// insertion sort: alias tables are small (a few dozen entries at most)
	for i := 1; i < len(table); i++ {
		for j := i; j > 0 && table[j-1].alias > table[j].alias; j-- {
			table[j-1], table[j] = table[j], table[j-1]
		}
	}
}
