package upstream

import (
	"strconv"
	"strings"
)

// Bitrate defaults.
const (
	DefaultKbps    = 2000
	DefaultMinKbps = 320
	DefaultMaxKbps = 4540
)

// Client kinds understood by the TV server.
const (
	ClientIDevice = "IDEV"
	ClientSafari  = "SAFARI"
)

// PlaybackParams are the parameters of one tune request.
type PlaybackParams struct {
	Host      string
	Port      int
	Kbps      int
	ServiceID string
	Client    string
}

// ClampKbps bounds kbps to [lo, hi]. Non-positive kbps selects DefaultKbps
// before clamping; a non-positive bound selects the matching default.
func ClampKbps(kbps, lo, hi int) int {
	if lo <= 0 {
		lo = DefaultMinKbps
	}
	if hi <= 0 {
		hi = DefaultMaxKbps
	}
	if kbps <= 0 {
		kbps = DefaultKbps
	}
	if kbps < lo {
		return lo
	}
	if kbps > hi {
		return hi
	}
	return kbps
}

// Endpoints are URL templates on the TV server. Placeholders {host},
// {port}, {kbps} and {service_id} are substituted per request.
type Endpoints struct {
	TuneIDevice string
	TuneSafari  string
	Ready       string
	StreamBase  string
}

// DefaultEndpoints returns the endpoint layout of the EyeTV live server.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		TuneIDevice: "http://{host}:{port}/live/tuneto/1/{kbps}/{service_id}",
		TuneSafari:  "http://{host}:{port}/live/tuneto/0/{kbps}/{service_id}",
		Ready:       "http://{host}:{port}/live/ready",
		StreamBase:  "http://{host}:{port}/live/stream/{service_id}",
	}
}

// Expand substitutes p into tmpl.
func Expand(tmpl string, p PlaybackParams) string {
	return strings.NewReplacer(
		"{host}", p.Host,
		"{port}", strconv.Itoa(p.Port),
		"{kbps}", strconv.Itoa(p.Kbps),
		"{service_id}", p.ServiceID,
	).Replace(tmpl)
}

// TuneURL returns the tune endpoint for the client kind in p.
func (e Endpoints) TuneURL(p PlaybackParams) string {
	if strings.EqualFold(p.Client, ClientSafari) {
		return Expand(e.TuneSafari, p)
	}
	return Expand(e.TuneIDevice, p)
}

// Headers returns the request headers the TV server expects from a client
// of the given kind.
func Headers(client, deviceName, token string) map[string]string {
	h := map[string]string{
		"User-Agent":          "EyeTV/1.2.3 CFNetwork/528.2 Darwin/11.0.0",
		"Accept":              "*/*",
		"X-EyeConnect-Client": "iPhoneApp1",
		"X-Device-Name":       deviceName,
	}
	if token != "" {
		h["X-EyeConnect-Token"] = token
	}
	if strings.EqualFold(client, ClientSafari) {
		h["X-Safari"] = "yes"
	}
	return h
}
