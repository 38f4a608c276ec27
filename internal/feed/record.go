// Package feed parses the broadcaster film list into Record values.
//
// The film list is a single large JSON document with repeated keys:
// a leading "Filmliste" metadata list followed by one "X" list per
// film. Fields inside a record are purely positional; Field names the
// known positions so a format shift fails loudly in one place instead
// of silently mis-assigning data.
package feed

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Record is a single film entry as delivered by the feed.
// It is transient: the reconciler consumes it and never holds on to it.
type Record struct {
	Channel     string
	Show        string
	Title       string
	AiredEpoch  int64 // seconds since epoch, 0 = unknown
	Duration    int   // seconds, 0 = unknown
	SizeMiB     int
	Description string
	Website     string
	URLSub      string
	URLVideo    string
	URLVideoSD  string
	URLVideoHD  string
	Geo         string
	New         bool
}

// Field is the positional index of a value inside a feed record.
type Field int

// Known field positions. Indices without a name carry data the engine
// does not use and are skipped.
const (
	FieldChannel     Field = 0
	FieldShow        Field = 1
	FieldTitle       Field = 2
	FieldAiredDate   Field = 3
	FieldAiredTime   Field = 4
	FieldDuration    Field = 5
	FieldSize        Field = 6
	FieldDescription Field = 7
	FieldURLVideo    Field = 8
	FieldWebsite     Field = 9
	FieldURLSub      Field = 10
	FieldURLVideoSD  Field = 12
	FieldURLVideoHD  Field = 14
	FieldAiredEpoch  Field = 16
	FieldGeo         Field = 18
	FieldNew         Field = 19
)

// recordState accumulates one record during parsing. The aired date and
// time arrive as separate legacy fields and are only used when the
// explicit epoch field is absent.
type recordState struct {
	rec       Record
	airedDate time.Time
	hasDate   bool
}

// apply assigns a single positional value. Malformed values for a
// single field never fail the record: the documented default stays in
// place and parsing continues.
func (s *recordState) apply(f Field, val string) {
	switch f {
	case FieldChannel:
		if val != "" {
			s.rec.Channel = val
		}
	case FieldShow:
		if val != "" {
			s.rec.Show = val
		}
	case FieldTitle:
		s.rec.Title = val
	case FieldAiredDate:
		// legacy dd.mm.yyyy; wrong length means unknown
		if len(val) == 10 {
			if t, err := time.Parse("02.01.2006", val); err == nil {
				s.airedDate = t
				s.hasDate = true
			}
		}
	case FieldAiredTime:
		if s.hasDate && len(val) == 8 {
			if t, err := time.Parse("02.01.2006 15:04:05", s.airedDate.Format("02.01.2006")+" "+val); err == nil {
				s.airedDate = t
			}
		}
	case FieldDuration:
		if len(val) == 8 {
			s.rec.Duration = parseDuration(val)
		}
	case FieldSize:
		if val != "" {
			if n, err := strconv.Atoi(val); err == nil {
				s.rec.SizeMiB = n
			}
		}
	case FieldDescription:
		s.rec.Description = val
	case FieldURLVideo:
		s.rec.URLVideo = val
	case FieldWebsite:
		s.rec.Website = val
	case FieldURLSub:
		s.rec.URLSub = val
	case FieldURLVideoSD:
		s.rec.URLVideoSD = resolveDeltaURL(s.rec.URLVideo, val)
	case FieldURLVideoHD:
		s.rec.URLVideoHD = resolveDeltaURL(s.rec.URLVideo, val)
	case FieldAiredEpoch:
		if val != "" {
			if n, err := strconv.ParseInt(val, 10, 64); err == nil {
				s.rec.AiredEpoch = n
			}
		}
	case FieldGeo:
		s.rec.Geo = val
	case FieldNew:
		s.rec.New = val == "true"
	}
}

// finish completes the record. The legacy date/time pair is a fallback
// for feeds that omit the epoch field.
func (s *recordState) finish() Record {
	if s.rec.AiredEpoch == 0 && s.hasDate {
		s.rec.AiredEpoch = s.airedDate.UTC().Unix()
	}
	return s.rec
}

// resolveDeltaURL decodes the feed's bandwidth-saving URL encoding:
// "<byteOffset>|<suffix>" means the first byteOffset bytes of the
// record's primary video URL followed by suffix. Anything else is a
// literal URL.
func resolveDeltaURL(base, val string) string {
	offset, suffix, ok := strings.Cut(val, "|")
	if !ok {
		return val
	}
	n, err := strconv.Atoi(offset)
	if err != nil || n < 0 || n > len(base) {
		return val
	}
	return base[:n] + suffix
}

// parseDuration converts "HH:MM:SS" to seconds. "00:00:00" and any
// malformed value mean unknown (0).
func parseDuration(val string) int {
	parts := strings.Split(val, ":")
	if len(parts) != 3 {
		return 0
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	s, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return 0
	}
	return h*3600 + m*60 + s
}

// Validate reports whether the record carries enough identity to be
// stored. Records without a channel, show or video URL cannot be keyed.
func (r *Record) Validate() error {
	if r.Channel == "" {
		return fmt.Errorf("channel is empty")
	}
	if r.Show == "" {
		return fmt.Errorf("show is empty")
	}
	if r.URLVideo == "" {
		return fmt.Errorf("video url is empty")
	}
	return nil
}
