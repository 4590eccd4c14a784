// Package riffinfo decodes and encodes RIFF INFO list chunk entries, used
// by WAV and AVI.
package riffinfo

import (
	"bytes"

	"github.com/pchchv/avpack/tag"
)

var idToTag = map[string]tag.ID{
	"IART": tag.Artist,
	"ICOP": tag.Copyright,
	"ICRD": tag.Date,
	"IGNR": tag.Genre,
	"INAM": tag.Title,
	"IPRD": tag.Album,
	"IPRT": tag.TrackNo,
	"ISFT": tag.Encoder,
}

var tagToID = func() map[tag.ID]string {
	m := make(map[tag.ID]string, len(idToTag))
	for id, t := range idToTag {
		m[t] = id
	}
	return m
}()

// Decode maps a single four-char RIFF INFO chunk id to a tag record. value
// is the raw chunk payload; trailing NUL bytes are stripped here.
func Decode(fourCC string, value []byte) tag.Record {
	v := string(bytes.TrimRight(value, "\x00"))
	id, ok := idToTag[fourCC]
	if !ok {
		return tag.Record{ID: tag.Unknown, Name: fourCC, Value: v}
	}
	return tag.Record{ID: id, Name: fourCC, Value: v}
}

// Encode returns the four-char chunk id and NUL-terminated, even-padded
// payload for one record, or ok=false if the record's id has no RIFF INFO
// mapping and no verbatim Name to fall back to.
func Encode(r tag.Record) (fourCC string, payload []byte, ok bool) {
	fourCC, known := tagToID[r.ID]
	if !known {
		if len(r.Name) == 4 {
			fourCC = r.Name
		} else {
			return "", nil, false
		}
	}
	payload = append([]byte(r.Value), 0)
	if len(payload)%2 != 0 {
		payload = append(payload, 0)
	}
	return fourCC, payload, true
}
