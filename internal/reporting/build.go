package reporting

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"enforce/internal/codec"
	"enforce/internal/environment"
	"enforce/internal/version"
)

// Host receives consent and billing beacons.
const Host = "data.privacy.ensighten.com"

// ErrBuildFailed wraps every failure to produce a beacon request.
var ErrBuildFailed = errors.New("build beacon")

// Input is everything a beacon is built from. Accumulated is the full set
// of flags reported so far, Delta the flags of the current call.
type Input struct {
	Type           BeaconType
	ClientName     string
	PublishPath    string
	Environment    string
	Debug          bool
	DefaultConsent map[string]bool
	Document       *environment.Document
	Delta          map[string]bool
	Accumulated    map[string]bool
	Sequence       int
	InstanceID     string
	Timestamp      time.Time
}

// Request describes one outbound beacon.
type Request struct {
	Type     BeaconType
	Method   string
	URL      string
	Sequence int
	Debug    bool
}

// Build assembles the beacon request for in. It has no side effects;
// billing beacons always carry n=0 whatever Sequence is.
func Build(in Input) (Request, error) {
	if in.Document == nil {
		return Request{}, fmt.Errorf("%w: no environment document", ErrBuildFailed)
	}

	var (
		payload any
		n       int
	)
	switch in.Type {
	case BeaconBilling:
		payload = billingPayload(in)
	case BeaconConsent:
		payload = consentPayload(in)
		n = in.Sequence
	default:
		return Request{}, fmt.Errorf("%w: unknown beacon type %q", ErrBuildFailed, in.Type)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return Request{}, fmt.Errorf("%w: encode payload: %w", ErrBuildFailed, err)
	}
	compressed, err := codec.Compress(raw)
	if err != nil {
		return Request{}, fmt.Errorf("%w: %w", ErrBuildFailed, err)
	}

	return Request{
		Type:     in.Type,
		Method:   http.MethodGet,
		URL:      beaconURL(in, n, len(raw), codec.EncodeURLSafe(compressed)),
		Sequence: n,
		Debug:    in.Debug,
	}, nil
}

func billingPayload(in Input) BillingPayload {
	ts := in.Timestamp.UnixMilli()
	return BillingPayload{
		Version:          version.Envelope,
		Gateway:          in.Document.Version,
		ClientID:         in.Document.ClientID,
		PublishPath:      in.PublishPath,
		InstanceID:       in.InstanceID,
		Packet:           0,
		Mode:             in.Document.Mode(),
		Cookies:          map[string]string{},
		Environment:      in.Environment,
		DocumentReferrer: "",
		Requests: []RequestRecord{{
			Type:         "billing",
			Start:        ts,
			End:          -1,
			Reasons:      []string{},
			DataPatterns: []string{},
			List:         []string{},
			ID:           ts,
		}},
	}
}

func consentPayload(in Input) ConsentPayload {
	ts := in.Timestamp.UnixMilli()

	cookies := make(map[string]string, len(in.Accumulated))
	for _, flag := range sortedKeys(in.Accumulated) {
		cookies[CookieKey(in.ClientName, flag)] = flagValue(in.Accumulated[flag])
	}

	events := make([]Event, 0, len(in.Delta))
	for _, flag := range sortedKeys(in.Delta) {
		events = append(events, Event{
			Name:  "cookieChanged",
			DT:    ts,
			Key:   flag,
			Value: flagValue(in.Delta[flag]),
		})
	}

	defaults := make(map[string]int, len(in.DefaultConsent))
	for k, v := range in.DefaultConsent {
		if v {
			defaults[k] = 1
		} else {
			defaults[k] = 0
		}
	}

	return ConsentPayload{
		Version:     version.Envelope,
		Gateway:     in.Document.Version,
		ClientID:    in.Document.ClientID,
		ClientName:  in.ClientName,
		PublishPath: in.PublishPath,
		Mode:        in.Document.ListMode(),
		Cookies:     cookies,
		DT:          ts,
		Settings: Settings{
			Modal:       "enterprise",
			Environment: in.Environment,
			Defaults:    defaults,
		},
		Events: events,
	}
}

// beaconURL keeps the query parameters in wire order.
func beaconURL(in Input, n, rawLen int, data string) string {
	params := [][2]string{
		{"n", strconv.Itoa(n)},
		{"c", in.Document.ClientID},
		{"i", in.InstanceID},
		{"p", in.PublishPath},
		{"utm_platform", version.Platform},
		{"utm_sdk_version", version.SDK},
		{"s", strconv.Itoa(rawLen)},
		{"d", data},
	}

	var b strings.Builder
	b.WriteString("https://")
	b.WriteString(Host)
	b.WriteString("/privacy/v1/")
	b.WriteString(in.Type.pathPrefix())
	b.WriteString("/b.rnc?")
	for i, p := range params {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(p[0])
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p[1]))
	}
	return b.String()
}
