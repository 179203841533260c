package playlist

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// ErrFormat is matched by every *FormatError.
var ErrFormat = errors.New("manifest format error")

// FormatError describes why a manifest was rejected. A rejected manifest
// never yields records.
type FormatError struct {
	URL    string
	LineNo int
	Line   string
	Msg    string
}

func (e *FormatError) Error() string {
	if e.LineNo == 0 {
		return fmt.Sprintf("manifest %s: %s", e.URL, e.Msg)
	}
	return fmt.Sprintf("manifest %s: line %d %q: %s", e.URL, e.LineNo, e.Line, e.Msg)
}

// Unwrap lets callers match the error with errors.Is(err, ErrFormat).
func (e *FormatError) Unwrap() error { return ErrFormat }

type parseState int

const (
	stateHeader parseState = iota
	stateFetch
	stateExtTag
	stateMRL
	stateDone
	stateError
)

func (s parseState) String() string {
	switch s {
	case stateHeader:
		return "header"
	case stateFetch:
		return "fetch"
	case stateExtTag:
		return "ext-tag"
	case stateMRL:
		return "mrl"
	case stateDone:
		return "done"
	default:
		return "error"
	}
}

// effect mutates the record accumulating directives for the next entry.
type effect func(*Record)

// Parser turns manifest text into records. URL is only used for
// diagnostics.
type Parser struct {
	URL string
	log *slog.Logger
}

// NewParser returns a Parser that reports warnings and errors to log. A nil
// logger discards them.
func NewParser(url string, log *slog.Logger) *Parser {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Parser{URL: url, log: log}
}

// Parse parses raw manifest text. On any validation failure it returns a
// *FormatError and no records.
func (p *Parser) Parse(raw string) (*Manifest, error) {
	lines := splitLines(raw)

	pos := 0
	for pos < len(lines) && strings.TrimSpace(lines[pos]) == "" {
		pos++
	}
	if pos == len(lines) {
		return nil, p.fail(&FormatError{URL: p.URL, Msg: "No data"})
	}

	var (
		out    []Record
		acc    Record
		line   string
		lineNo int
		err    error
	)
	state := stateHeader
	for state != stateDone {
		switch state {
		case stateHeader:
			line, lineNo = strings.TrimSpace(lines[pos]), pos+1
			pos++
			state, err = headerState(line)
		case stateFetch:
			if pos >= len(lines) {
				state = stateDone
				continue
			}
			line, lineNo = strings.TrimSpace(lines[pos]), pos+1
			pos++
			state = fetchState(line)
		case stateExtTag:
			var (
				apply effect
				warn  string
			)
			state, apply, warn, err = extTagState(line)
			if warn != "" {
				p.log.Warn(warn, slog.String("url", p.URL), slog.Int("line_no", lineNo), slog.String("line", line))
			}
			if apply != nil {
				apply(&acc)
			}
		case stateMRL:
			acc.MRL = line
			out = append(out, acc)
			acc = Record{}
			state = stateFetch
		case stateError:
			return nil, p.fail(&FormatError{URL: p.URL, LineNo: lineNo, Line: line, Msg: err.Error()})
		}
	}

	if len(out) > 0 && hasDirectives(&acc) {
		mergeTrailing(&out[len(out)-1], &acc)
	}
	synthesizeMediaSequence(out)
	return &Manifest{Records: out}, nil
}

func (p *Parser) fail(e *FormatError) error {
	p.log.Error("manifest rejected",
		slog.String("url", e.URL),
		slog.Int("line_no", e.LineNo),
		slog.String("line", e.Line),
		slog.String("error", e.Msg))
	return e
}

func splitLines(raw string) []string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	raw = strings.ReplaceAll(raw, "\n\r", "\n")
	raw = strings.ReplaceAll(raw, "\r", "\n")
	return strings.Split(raw, "\n")
}

// headerState validates the signature line.
func headerState(line string) (parseState, error) {
	if line != Signature {
		return stateError, errors.New("expected " + Signature)
	}
	return stateFetch, nil
}

// fetchState classifies the next line. A blank line ends the manifest.
func fetchState(line string) parseState {
	switch {
	case line == "":
		return stateDone
	case strings.HasPrefix(line, "#"):
		return stateExtTag
	default:
		return stateMRL
	}
}

// extTagState parses one directive line into an effect on the accumulating
// record. Comment lines yield no effect. warn is non-empty for directives
// that were tolerated but not understood.
func extTagState(line string) (next parseState, apply effect, warn string, err error) {
	if !strings.HasPrefix(line, "#EXT") {
		return stateFetch, nil, "", nil
	}
	name, val, hasVal := strings.Cut(line[1:], ":")

	switch name {
	case "EXTINF":
		dur, title, ok := strings.Cut(val, ",")
		if !ok {
			return stateError, nil, "", errors.New("expected duration,title pair as value for key")
		}
		d, perr := strconv.ParseInt(strings.TrimSpace(dur), 10, 64)
		if perr != nil || d < 0 {
			return stateError, nil, "", errors.New("expected numeric value for duration")
		}
		apply = func(r *Record) { r.Inf = &Inf{Duration: d, Title: title} }

	case "EXT-X-TARGETDURATION", "EXT-X-MEDIA-SEQUENCE":
		n, perr := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		if perr != nil {
			return stateError, nil, "", errors.New("expected numeric value for key")
		}
		if name == "EXT-X-TARGETDURATION" {
			apply = func(r *Record) { r.TargetDuration = &n }
		} else {
			apply = func(r *Record) { r.MediaSequence = &n }
		}

	case "EXT-X-KEY":
		k, kerr := parseKey(val)
		if kerr != nil {
			return stateError, nil, "", kerr
		}
		apply = func(r *Record) { r.Key = k }

	case "EXT-X-PROGRAM-DATE-TIME":
		ts, ok := parseDateTime(strings.TrimSpace(val))
		if !ok {
			return stateError, nil, "", errors.New("expected YYYY-MM-DDThh:mm:ss as value for key")
		}
		apply = func(r *Record) { r.ProgramDateTime = &ts }

	case "EXT-X-ALLOW-CACHE":
		if val != "YES" && val != "NO" {
			return stateError, nil, "", errors.New("expected YES or NO as value for key")
		}
		apply = func(r *Record) { r.AllowCache = val }

	case "EXT-X-PLAYLIST-TYPE":
		apply = func(r *Record) { r.PlaylistType = val }

	case "EXT-X-ENDLIST":
		apply = func(r *Record) { r.EndList = true }

	case "EXT-X-STREAM-INF":
		inf, serr := parseStreamInf(val)
		if serr != nil {
			return stateError, nil, "", serr
		}
		apply = func(r *Record) { r.StreamInf = inf }

	case "EXT-X-DISCONTINUITY":
		apply = func(r *Record) { r.Discontinuity = true }

	case "EXT-X-VERSION":
		apply = func(r *Record) { r.Version = val }

	default:
		if !hasVal {
			return stateFetch, nil, "directive dropped, no value", nil
		}
		apply = func(r *Record) {
			if r.Unknown == nil {
				r.Unknown = make(map[string]string)
			}
			r.Unknown[name] = val
		}
		warn = "unknown directive"
	}
	return stateFetch, apply, warn, nil
}

func parseKey(val string) (*Key, error) {
	method, uri, hasURI := strings.Cut(val, ",")
	if !strings.HasPrefix(method, "METHOD=") {
		return nil, errors.New("expected METHOD= value for key")
	}
	method = strings.TrimPrefix(method, "METHOD=")
	if method != MethodNone && method != MethodAES128 {
		return nil, errors.New("expected method to be NONE or AES-128")
	}
	k := &Key{Method: method}
	if hasURI {
		if !strings.HasPrefix(uri, `URI="`) || !strings.HasSuffix(uri, `"`) || len(uri) < len(`URI=""`) {
			return nil, errors.New(`expected URI="..." value for key`)
		}
		k.URI = uri[len(`URI="`) : len(uri)-1]
	}
	return k, nil
}

var dateTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseDateTime(val string) (time.Time, bool) {
	for _, layout := range dateTimeLayouts {
		if ts, err := time.Parse(layout, val); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

func parseStreamInf(val string) (*StreamInf, error) {
	list, _, _ := strings.Cut(val, " ")
	inf := &StreamInf{}
	for _, attr := range strings.Split(list, ",") {
		attr = strings.TrimSpace(attr)
		if attr == "" {
			return nil, errors.New("empty attribute in attribute list")
		}
		k, v, ok := strings.Cut(attr, "=")
		if !ok {
			return nil, errors.New("invalid key=value attribute pair")
		}
		if k != "BANDWIDTH" && k != "PROGRAM-ID" {
			return nil, errors.New("expected BANDWIDTH or PROGRAM-ID as attribute")
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, errors.New("expected numeric value for attribute")
		}
		if k == "BANDWIDTH" {
			inf.Bandwidth = &n
		} else {
			inf.ProgramID = &n
		}
	}
	return inf, nil
}

func hasDirectives(r *Record) bool {
	return len(r.Keys()) > 0
}

// mergeTrailing attaches directives that follow the last entry line (for
// example #EXT-X-ENDLIST) to the last record.
func mergeTrailing(dst, src *Record) {
	if src.Inf != nil {
		dst.Inf = src.Inf
	}
	if src.TargetDuration != nil {
		dst.TargetDuration = src.TargetDuration
	}
	if src.MediaSequence != nil {
		dst.MediaSequence = src.MediaSequence
	}
	if src.Key != nil {
		dst.Key = src.Key
	}
	if src.ProgramDateTime != nil {
		dst.ProgramDateTime = src.ProgramDateTime
	}
	if src.AllowCache != "" {
		dst.AllowCache = src.AllowCache
	}
	if src.PlaylistType != "" {
		dst.PlaylistType = src.PlaylistType
	}
	if src.StreamInf != nil {
		dst.StreamInf = src.StreamInf
	}
	if src.Version != "" {
		dst.Version = src.Version
	}
	dst.EndList = dst.EndList || src.EndList
	dst.Discontinuity = dst.Discontinuity || src.Discontinuity
	for k, v := range src.Unknown {
		if dst.Unknown == nil {
			dst.Unknown = make(map[string]string)
		}
		dst.Unknown[k] = v
	}
}

func synthesizeMediaSequence(out []Record) {
	if len(out) == 0 {
		return
	}
	for _, r := range out {
		if r.MediaSequence != nil {
			return
		}
	}
	one := int64(1)
	out[0].MediaSequence = &one
	out[0].MediaSequenceSynthesized = true
}
