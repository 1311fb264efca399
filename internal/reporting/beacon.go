package reporting

import (
	"bytes"
	"encoding/json"
	"slices"
	"strings"
)

// BeaconType tags a beacon as billing or consent.
type BeaconType string

const (
	BeaconBilling BeaconType = "billing"
	BeaconConsent BeaconType = "consent"
)

func (t BeaconType) pathPrefix() string {
	if t == BeaconBilling {
		return "b"
	}
	return "c"
}

// BillingPayload is sent once per successful document fetch.
type BillingPayload struct {
	Version          string            `json:"version"`
	Gateway          string            `json:"gateway"`
	ClientID         string            `json:"clientId"`
	PublishPath      string            `json:"publishPath"`
	InstanceID       string            `json:"instanceId"`
	Packet           int               `json:"packet"`
	Mode             string            `json:"mode"`
	Cookies          map[string]string `json:"cookies"`
	Environment      string            `json:"environment"`
	DocumentReferrer string            `json:"documentReferrer"`
	Requests         []RequestRecord   `json:"requests"`
}

// RequestRecord is the synthetic billing request entry.
type RequestRecord struct {
	Destination  string   `json:"destination"`
	Type         string   `json:"type"`
	Start        int64    `json:"start"`
	End          int      `json:"end"`
	Source       string   `json:"source"`
	Status       string   `json:"status"`
	Reasons      []string `json:"reasons"`
	DataPatterns []string `json:"dataPatterns"`
	List         []string `json:"list"`
	ID           int64    `json:"id"`
}

// ConsentPayload is sent on every consent change once a document is known.
type ConsentPayload struct {
	Version     string            `json:"version"`
	Gateway     string            `json:"gateway"`
	ClientID    string            `json:"clientId"`
	ClientName  string            `json:"clientName"`
	PublishPath string            `json:"publishPath"`
	Mode        string            `json:"mode"`
	Cookies     map[string]string `json:"cookies"`
	DT          int64             `json:"dt"`
	Settings    Settings          `json:"settings"`
	Events      []Event           `json:"events"`
}

type Settings struct {
	Modal       string         `json:"modal"`
	Environment string         `json:"environment"`
	Defaults    map[string]int `json:"defaults"`
}

// Event records one flag change. It marshals as
// {"event":"cookieChanged","dt":<ms>,"<Key>":"1"|"0"}.
type Event struct {
	Name  string
	DT    int64
	Key   string
	Value string
}

func (e Event) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"event":`)
	if err := writeJSON(&buf, e.Name); err != nil {
		return nil, err
	}
	buf.WriteString(`,"dt":`)
	if err := writeJSON(&buf, e.DT); err != nil {
		return nil, err
	}
	buf.WriteByte(',')
	if err := writeJSON(&buf, e.Key); err != nil {
		return nil, err
	}
	buf.WriteByte(':')
	if err := writeJSON(&buf, e.Value); err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k, v := range raw {
		switch k {
		case "event":
			if err := json.Unmarshal(v, &e.Name); err != nil {
				return err
			}
		case "dt":
			if err := json.Unmarshal(v, &e.DT); err != nil {
				return err
			}
		default:
			e.Key = k
			if err := json.Unmarshal(v, &e.Value); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeJSON(buf *bytes.Buffer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}

// CookieKey returns the cookie name a flag is reported under, e.g.
// DEMORETAIL_ENSIGHTEN_PRIVACY_ANALYTICS.
func CookieKey(clientName, flag string) string {
	return strings.ToUpper(clientName) + "_ENSIGHTEN_PRIVACY_" + strings.ToUpper(flag)
}

func flagValue(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
