package playlist

import "time"

// Signature is the literal first line of every manifest.
const Signature = "#EXTM3U"

// Tag keys as they are reported by Record.Keys. Keys are the directive name
// lower-cased with the leading "EXT" and dash stripped.
const (
	KeyInf                = "inf"
	KeyTargetDuration     = "x-targetduration"
	KeyMediaSequence      = "x-media-sequence"
	KeyKey                = "x-key"
	KeyProgramDateTime    = "x-program-date-time"
	KeyAllowCache         = "x-allow-cache"
	KeyPlaylistType       = "x-playlist-type"
	KeyEndList            = "x-endlist"
	KeyStreamInf          = "x-stream-inf"
	KeyDiscontinuity      = "x-discontinuity"
	KeyVersion            = "x-version"
	KeyMediaSequenceSynth = "x-media-sequence-generated"
)

// Encryption methods accepted in #EXT-X-KEY.
const (
	MethodNone   = "NONE"
	MethodAES128 = "AES-128"
)

// Inf is the value of #EXTINF: an integer duration in seconds and a label.
type Inf struct {
	Duration int64  `json:"duration"`
	Title    string `json:"title"`
}

// Key is the value of #EXT-X-KEY. Segments are never decrypted; the key is
// carried through so callers can see that a stream is encrypted.
type Key struct {
	Method string `json:"method"`
	URI    string `json:"uri,omitempty"`
}

// StreamInf is the attribute list of #EXT-X-STREAM-INF.
type StreamInf struct {
	Bandwidth *int64 `json:"bandwidth,omitempty"`
	ProgramID *int64 `json:"program_id,omitempty"`
}

// Record is one parsed unit of a manifest: the directives that preceded an
// entry line plus the entry itself (MRL). A record with an empty MRL only
// carries directives.
type Record struct {
	Inf             *Inf       `json:"inf,omitempty"`
	TargetDuration  *int64     `json:"target_duration,omitempty"`
	MediaSequence   *int64     `json:"media_sequence,omitempty"`
	Key             *Key       `json:"key,omitempty"`
	ProgramDateTime *time.Time `json:"program_date_time,omitempty"`
	AllowCache      string     `json:"allow_cache,omitempty"`
	PlaylistType    string     `json:"playlist_type,omitempty"`
	StreamInf       *StreamInf `json:"stream_inf,omitempty"`
	Version         string     `json:"version,omitempty"`
	EndList         bool       `json:"endlist,omitempty"`
	Discontinuity   bool       `json:"discontinuity,omitempty"`

	// MediaSequenceSynthesized marks a media sequence the parser inferred
	// because the server did not declare one.
	MediaSequenceSynthesized bool `json:"media_sequence_synthesized,omitempty"`

	// Unknown holds directives the parser does not recognise, keyed by the
	// directive name as it appeared (without the leading '#').
	Unknown map[string]string `json:"unknown,omitempty"`

	// MRL is the media resource locator of the entry line.
	MRL string `json:"mrl,omitempty"`
}

// IsSegment reports whether the record denotes a playable entry.
func (r *Record) IsSegment() bool {
	return r.MRL != ""
}

// IsVariant reports whether the record points at a sub-manifest.
func (r *Record) IsVariant() bool {
	return r.StreamInf != nil && r.MRL != ""
}

// Keys returns the tag keys set on the record.
func (r *Record) Keys() []string {
	var keys []string
	add := func(ok bool, k string) {
		if ok {
			keys = append(keys, k)
		}
	}
	add(r.Inf != nil, KeyInf)
	add(r.TargetDuration != nil, KeyTargetDuration)
	add(r.MediaSequence != nil, KeyMediaSequence)
	add(r.MediaSequenceSynthesized, KeyMediaSequenceSynth)
	add(r.Key != nil, KeyKey)
	add(r.ProgramDateTime != nil, KeyProgramDateTime)
	add(r.AllowCache != "", KeyAllowCache)
	add(r.PlaylistType != "", KeyPlaylistType)
	add(r.EndList, KeyEndList)
	add(r.StreamInf != nil, KeyStreamInf)
	add(r.Discontinuity, KeyDiscontinuity)
	add(r.Version != "", KeyVersion)
	for k := range r.Unknown {
		keys = append(keys, k)
	}
	return keys
}

// Manifest is the result of one successful parse. It is read-only once
// returned; a changed manifest is always a fresh value.
type Manifest struct {
	Records []Record
}

// MediaSequence returns the sequence number anchoring the manifest and
// whether the server declared it (false when the parser synthesized it or
// the manifest has no records).
func (m *Manifest) MediaSequence() (seq int64, declared bool) {
	if m == nil {
		return 0, false
	}
	for _, r := range m.Records {
		if r.MediaSequence != nil {
			return *r.MediaSequence, !r.MediaSequenceSynthesized
		}
	}
	return 0, false
}

// TargetDuration returns the first declared target duration in seconds.
func (m *Manifest) TargetDuration() (int64, bool) {
	if m == nil {
		return 0, false
	}
	for _, r := range m.Records {
		if r.TargetDuration != nil {
			return *r.TargetDuration, true
		}
	}
	return 0, false
}

// EndList reports whether any record carries the end-of-list marker.
func (m *Manifest) EndList() bool {
	if m == nil {
		return false
	}
	for _, r := range m.Records {
		if r.EndList {
			return true
		}
	}
	return false
}

// FirstSegment returns the first record with an MRL.
func (m *Manifest) FirstSegment() (Record, bool) {
	if m == nil {
		return Record{}, false
	}
	for _, r := range m.Records {
		if r.IsSegment() {
			return r, true
		}
	}
	return Record{}, false
}

// MRLs returns the entry lines in manifest order.
func (m *Manifest) MRLs() []string {
	if m == nil {
		return nil
	}
	out := make([]string, 0, len(m.Records))
	for _, r := range m.Records {
		if r.IsSegment() {
			out = append(out, r.MRL)
		}
	}
	return out
}
