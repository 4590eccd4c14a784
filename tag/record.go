// Package tag defines the normalized tag record every codec in this module
// decodes into and encodes from.
package tag

import "github.com/pchchv/avpack/internal/tagid"

// ID re-exports the normalized tag identifier space so callers only need to
// import package tag, not internal/tagid.
type ID = tagid.ID

const (
	Unknown             = tagid.Unknown
	Vendor              = tagid.Vendor
	Artist              = tagid.Artist
	AlbumArtist         = tagid.AlbumArtist
	Album               = tagid.Album
	Title               = tagid.Title
	Date                = tagid.Date
	Genre               = tagid.Genre
	TrackNo             = tagid.TrackNo
	TrackTotal          = tagid.TrackTotal
	DiscNumber          = tagid.DiscNumber
	DiscTotal           = tagid.DiscTotal
	Comment             = tagid.Comment
	Composer            = tagid.Composer
	Publisher           = tagid.Publisher
	Lyrics              = tagid.Lyrics
	Copyright           = tagid.Copyright
	ReplayGainTrackGain = tagid.ReplayGainTrackGain
	ReplayGainTrackPeak = tagid.ReplayGainTrackPeak
	ReplayGainAlbumGain = tagid.ReplayGainAlbumGain
	ReplayGainAlbumPeak = tagid.ReplayGainAlbumPeak
	Picture             = tagid.Picture
	Encoder             = tagid.Encoder
	Language            = tagid.Language
	BPM                 = tagid.BPM
	Conductor           = tagid.Conductor
	OriginalArtist      = tagid.OriginalArtist
)

// Record is one decoded metadata field: ID is the normalized
// identifier; Name is the verbatim on-disk field name (useful for Unknown
// fields and for TXXX/"----" style user-defined keys); Value is the decoded
// text. Name and Value are Go strings copied out of the decoded bytes, so
// they stay valid after later Process calls.
type Record struct {
	ID    ID
	Name  string
	Value string
}
