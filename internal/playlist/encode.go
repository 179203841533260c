package playlist

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Encode renders a manifest back to text. Synthesized media sequence
// numbers are omitted and #EXT-X-ENDLIST is written once after the last
// entry. The output contains no blank lines so it parses back to the same
// records.
func Encode(m *Manifest) string {
	var b strings.Builder

	b.WriteString(Signature + "\n")
	if m == nil {
		return b.String()
	}

	for _, r := range m.Records {
		if r.Version != "" {
			b.WriteString(fmt.Sprintf("#EXT-X-VERSION:%s\n", r.Version))
		}
		if r.TargetDuration != nil {
			b.WriteString(fmt.Sprintf("#EXT-X-TARGETDURATION:%d\n", *r.TargetDuration))
		}
		if r.MediaSequence != nil && !r.MediaSequenceSynthesized {
			b.WriteString(fmt.Sprintf("#EXT-X-MEDIA-SEQUENCE:%d\n", *r.MediaSequence))
		}
		if r.PlaylistType != "" {
			b.WriteString(fmt.Sprintf("#EXT-X-PLAYLIST-TYPE:%s\n", r.PlaylistType))
		}
		if r.AllowCache != "" {
			b.WriteString(fmt.Sprintf("#EXT-X-ALLOW-CACHE:%s\n", r.AllowCache))
		}
		if r.Key != nil {
			if r.Key.URI != "" {
				b.WriteString(fmt.Sprintf("#EXT-X-KEY:METHOD=%s,URI=\"%s\"\n", r.Key.Method, r.Key.URI))
			} else {
				b.WriteString(fmt.Sprintf("#EXT-X-KEY:METHOD=%s\n", r.Key.Method))
			}
		}
		if r.ProgramDateTime != nil {
			b.WriteString(fmt.Sprintf("#EXT-X-PROGRAM-DATE-TIME:%s\n", r.ProgramDateTime.Format(time.RFC3339Nano)))
		}
		if r.Discontinuity {
			b.WriteString("#EXT-X-DISCONTINUITY\n")
		}
		if len(r.Unknown) > 0 {
			names := make([]string, 0, len(r.Unknown))
			for name := range r.Unknown {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				b.WriteString(fmt.Sprintf("#%s:%s\n", name, r.Unknown[name]))
			}
		}
		if r.StreamInf != nil {
			b.WriteString("#EXT-X-STREAM-INF:" + encodeStreamInf(r.StreamInf) + "\n")
		}
		if r.Inf != nil {
			b.WriteString(fmt.Sprintf("#EXTINF:%d,%s\n", r.Inf.Duration, r.Inf.Title))
		}
		if r.MRL != "" {
			b.WriteString(r.MRL)
			b.WriteString("\n")
		}
	}

	if m.EndList() {
		b.WriteString("#EXT-X-ENDLIST\n")
	}
	return b.String()
}

func encodeStreamInf(inf *StreamInf) string {
	var attrs []string
	if inf.ProgramID != nil {
		attrs = append(attrs, fmt.Sprintf("PROGRAM-ID=%d", *inf.ProgramID))
	}
	if inf.Bandwidth != nil {
		attrs = append(attrs, fmt.Sprintf("BANDWIDTH=%d", *inf.Bandwidth))
	}
	return strings.Join(attrs, ",")
}
