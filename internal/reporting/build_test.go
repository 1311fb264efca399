package reporting

import (
	"encoding/json"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"enforce/internal/environment"
)

var ts = time.UnixMilli(1_700_000_000_123)

func testDocument() *environment.Document {
	return &environment.Document{
		ClientID:    "c-1234",
		Version:     "42",
		Enforcement: true,
	}
}

func baseInput(typ BeaconType) Input {
	return Input{
		Type:           typ,
		ClientName:     "demoretail",
		PublishPath:    "mobile",
		Environment:    "prod",
		DefaultConsent: map[string]bool{"Analytics": false, "Functional": true},
		Document:       testDocument(),
		InstanceID:     "4fti4g",
		Timestamp:      ts,
	}
}

func decodePayload(t *testing.T, req Request, into any) Decoded {
	t.Helper()
	decoded, err := DecodeURL(req.URL)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(decoded.Payload, into))
	return decoded
}

func TestBuild_Billing(t *testing.T) {
	in := baseInput(BeaconBilling)
	in.Sequence = 7

	req, err := Build(in)
	require.NoError(t, err)

	assert.Equal(t, "GET", req.Method)
	assert.True(t, strings.HasPrefix(req.URL, "https://data.privacy.ensighten.com/privacy/v1/b/b.rnc?n=0&c=c-1234&i=4fti4g&p=mobile&utm_platform=go_sdk&utm_sdk_version=1.0.0&s="))
	assert.Equal(t, 0, req.Sequence)

	var payload BillingPayload
	decoded := decodePayload(t, req, &payload)
	assert.Equal(t, BeaconBilling, decoded.Type)
	assert.Equal(t, 0, decoded.Sequence)

	assert.Equal(t, "1.0.0", payload.Version)
	assert.Equal(t, "42", payload.Gateway)
	assert.Equal(t, "c-1234", payload.ClientID)
	assert.Equal(t, "4fti4g", payload.InstanceID)
	assert.Equal(t, "enforce", payload.Mode)
	assert.Empty(t, payload.Cookies)
	assert.Equal(t, "prod", payload.Environment)
	require.Len(t, payload.Requests, 1)
	assert.Equal(t, "billing", payload.Requests[0].Type)
	assert.Equal(t, ts.UnixMilli(), payload.Requests[0].Start)
	assert.Equal(t, ts.UnixMilli(), payload.Requests[0].ID)
	assert.Equal(t, -1, payload.Requests[0].End)
}

func TestBuild_BillingFieldPresence(t *testing.T) {
	req, err := Build(baseInput(BeaconBilling))
	require.NoError(t, err)

	decoded, err := DecodeURL(req.URL)
	require.NoError(t, err)

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(decoded.Payload, &fields))
	assert.JSONEq(t, `{}`, string(fields["cookies"]))
	assert.JSONEq(t, `""`, string(fields["documentReferrer"]))
	assert.JSONEq(t, `0`, string(fields["packet"]))
	assert.NotContains(t, fields, "events")
	assert.NotContains(t, fields, "settings")
	assert.NotContains(t, fields, "clientName")

	s, err := url.Parse(req.URL)
	require.NoError(t, err)
	assert.Equal(t, len(decoded.Payload), mustAtoi(t, s.Query().Get("s")))
}

func TestBuild_Consent(t *testing.T) {
	in := baseInput(BeaconConsent)
	in.Sequence = 3
	in.Delta = map[string]bool{"Analytics": true, "BANNER_VIEWED": true}
	in.Accumulated = map[string]bool{"Analytics": true, "BANNER_VIEWED": true, "Marketing": false}

	req, err := Build(in)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(req.URL, "https://data.privacy.ensighten.com/privacy/v1/c/b.rnc?n=3&"))

	var payload ConsentPayload
	decoded := decodePayload(t, req, &payload)
	assert.Equal(t, BeaconConsent, decoded.Type)
	assert.Equal(t, 3, decoded.Sequence)

	assert.Equal(t, "demoretail", payload.ClientName)
	assert.Equal(t, "whitelist", payload.Mode)
	assert.Equal(t, ts.UnixMilli(), payload.DT)
	assert.Equal(t, map[string]string{
		"DEMORETAIL_ENSIGHTEN_PRIVACY_ANALYTICS":     "1",
		"DEMORETAIL_ENSIGHTEN_PRIVACY_BANNER_VIEWED": "1",
		"DEMORETAIL_ENSIGHTEN_PRIVACY_MARKETING":     "0",
	}, payload.Cookies)
	assert.Equal(t, Settings{
		Modal:       "enterprise",
		Environment: "prod",
		Defaults:    map[string]int{"Analytics": 0, "Functional": 1},
	}, payload.Settings)

	require.Len(t, payload.Events, 2)
	assert.Equal(t, Event{Name: "cookieChanged", DT: ts.UnixMilli(), Key: "Analytics", Value: "1"}, payload.Events[0])
	assert.Equal(t, "BANNER_VIEWED", payload.Events[1].Key)
}

func TestBuild_ConsentEmptyDeltaKeepsArrays(t *testing.T) {
	in := baseInput(BeaconConsent)
	in.DefaultConsent = nil
	in.Document.Enforcement = false

	req, err := Build(in)
	require.NoError(t, err)

	decoded, err := DecodeURL(req.URL)
	require.NoError(t, err)

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(decoded.Payload, &fields))
	assert.JSONEq(t, `[]`, string(fields["events"]))
	assert.JSONEq(t, `{}`, string(fields["cookies"]))
	assert.JSONEq(t, `"blacklist"`, string(fields["mode"]))
	assert.NotContains(t, fields, "instanceId")
	assert.NotContains(t, fields, "requests")
}

func TestBuild_Errors(t *testing.T) {
	in := baseInput(BeaconConsent)
	in.Document = nil
	_, err := Build(in)
	require.ErrorIs(t, err, ErrBuildFailed)

	in = baseInput("heartbeat")
	_, err = Build(in)
	require.ErrorIs(t, err, ErrBuildFailed)
}

func TestBuild_Deterministic(t *testing.T) {
	in := baseInput(BeaconConsent)
	in.Delta = map[string]bool{"A": true, "B": false, "C": true}
	in.Accumulated = in.Delta

	first, err := Build(in)
	require.NoError(t, err)
	second, err := Build(in)
	require.NoError(t, err)
	assert.Equal(t, first.URL, second.URL)
}

func TestEvent_MarshalJSON(t *testing.T) {
	b, err := json.Marshal(Event{Name: "cookieChanged", DT: 5, Key: `we"ird`, Value: "0"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"cookieChanged","dt":5,"we\"ird":"0"}`, string(b))
}

func TestCookieKey(t *testing.T) {
	assert.Equal(t, "DEMORETAIL_ENSIGHTEN_PRIVACY_ANALYTICS", CookieKey("demoretail", "Analytics"))
}

func TestDecodeURL_Rejects(t *testing.T) {
	_, err := DecodeURL("https://data.privacy.ensighten.com/other")
	assert.ErrorIs(t, err, errNotBeacon)

	_, err = DecodeURL("https://data.privacy.ensighten.com/privacy/v1/c/b.rnc?n=x&s=1&d=AA")
	assert.ErrorIs(t, err, errNotBeacon)
}
