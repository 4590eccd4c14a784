// Package matroskatag decodes Matroska/WebM SimpleTag elements. Unlike the
// other tag codecs, only a small closed set of well-known TagName strings
// is normalized; everything else is delivered opaquely to the caller.
package matroskatag

import "github.com/pchchv/avpack/tag"

var nameToID = map[string]tag.ID{
	"TITLE":                 tag.Title,
	"ARTIST":                tag.Artist,
	"ALBUM":                 tag.Album,
	"ALBUM_ARTIST":          tag.AlbumArtist,
	"DATE_RELEASED":         tag.Date,
	"GENRE":                 tag.Genre,
	"COMMENT":               tag.Comment,
	"COMPOSER":              tag.Composer,
	"PUBLISHER":             tag.Publisher,
	"LYRICS":                tag.Lyrics,
	"COPYRIGHT":             tag.Copyright,
	"PART_NUMBER":           tag.TrackNo,
	"TOTAL_PARTS":           tag.TrackTotal,
	"REPLAYGAIN_GAIN":       tag.ReplayGainTrackGain,
	"REPLAYGAIN_PEAK":       tag.ReplayGainTrackPeak,
}

// Decode maps one SimpleTag's {TagName, TagString} pair to a normalized
// record. TagBinary values are not modeled here; the reader delivers them
// as a record whose Value holds the raw bytes, with Name set so the
// caller can tell it apart.
func Decode(tagName, tagString string) tag.Record {
	id, ok := nameToID[tagName]
	if !ok {
		return tag.Record{ID: tag.Unknown, Name: tagName, Value: tagString}
	}
	return tag.Record{ID: id, Name: tagName, Value: tagString}
}

// Encode returns the TagName to use for a record when writing a Matroska
// SimpleTag element, falling back to the record's verbatim Name.
func Encode(r tag.Record) (tagName string) {
	for name, id := range nameToID {
		if id == r.ID {
			return name
		}
	}
	return r.Name
}
