// Package cue parses CUE sheets: global PERFORMER/TITLE/REM keys, FILE
// sections, and per-track TITLE/PERFORMER/INDEX entries with positions in
// CD frames (1/75 second). A plain line-oriented utility.
package cue

import (
	"strconv"
	"strings"
)

// Track is one TRACK block.
type Track struct {
	Number    int
	Title     string
	Performer string
	// Index0/Index1 are the INDEX 00/01 positions in CD frames; -1 when
	// absent.
	Index0 int64
	Index1 int64
}

// File is one FILE section with its tracks.
type File struct {
	Name   string
	Type   string
	Tracks []Track
}

// Sheet is a parsed CUE sheet.
type Sheet struct {
	Performer string
	Title     string
	Rem       map[string]string
	Files     []File
}

// Parse decodes a complete CUE sheet. Unrecognized commands are skipped.
func Parse(data []byte) Sheet {
	sheet := Sheet{Rem: map[string]string{}}
	var file *File
	var track *Track
	for _, raw := range strings.Split(string(data), "\n") {
		line := strings.TrimSpace(strings.TrimRight(raw, "\r"))
		if line == "" {
			continue
		}
		cmd, rest, _ := strings.Cut(line, " ")
		switch strings.ToUpper(cmd) {
		case "REM":
			name, val, _ := strings.Cut(rest, " ")
			sheet.Rem[name] = unquote(val)
		case "PERFORMER":
			if track != nil {
				track.Performer = unquote(rest)
			} else {
				sheet.Performer = unquote(rest)
			}
		case "TITLE":
			if track != nil {
				track.Title = unquote(rest)
			} else {
				sheet.Title = unquote(rest)
			}
		case "FILE":
			name, typ := splitFile(rest)
			sheet.Files = append(sheet.Files, File{Name: name, Type: typ})
			file = &sheet.Files[len(sheet.Files)-1]
			track = nil
		case "TRACK":
			if file == nil {
				continue
			}
			numStr, _, _ := strings.Cut(rest, " ")
			num, _ := strconv.Atoi(numStr)
			file.Tracks = append(file.Tracks, Track{Number: num, Index0: -1, Index1: -1})
			track = &file.Tracks[len(file.Tracks)-1]
		case "INDEX":
			if track == nil {
				continue
			}
			idxStr, pos, _ := strings.Cut(rest, " ")
			frames := parseMSF(strings.TrimSpace(pos))
			switch idxStr {
			case "00":
				track.Index0 = frames
			default:
				if track.Index1 < 0 {
					track.Index1 = frames
				}
			}
		}
	}
	return sheet
}

// parseMSF converts a MM:SS:FF position to CD frames (75 per second).
func parseMSF(s string) int64 {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return -1
	}
	mm, err1 := strconv.Atoi(parts[0])
	ss, err2 := strconv.Atoi(parts[1])
	ff, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return -1
	}
	return (int64(mm)*60+int64(ss))*75 + int64(ff)
}

// splitFile separates the quoted filename from the trailing type word.
func splitFile(s string) (name, typ string) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "\"") {
		if end := strings.Index(s[1:], "\""); end >= 0 {
			return s[1 : 1+end], strings.TrimSpace(s[end+2:])
		}
	}
	name, typ, _ = strings.Cut(s, " ")
	return name, strings.TrimSpace(typ)
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	return strings.Trim(s, "\"")
}
