package reporting

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"enforce/internal/codec"
)

// Decoded is a beacon URL taken apart again.
type Decoded struct {
	Type     BeaconType
	Sequence int
	Query    url.Values
	Payload  []byte
}

var errNotBeacon = errors.New("not a beacon URL")

// DecodeURL reverses Build: it reads the prefix, the sequence number and
// inflates the d parameter using the length in s.
func DecodeURL(rawURL string) (Decoded, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Decoded{}, fmt.Errorf("parse beacon url: %w", err)
	}

	var typ BeaconType
	switch {
	case strings.HasSuffix(u.Path, "/b/b.rnc"):
		typ = BeaconBilling
	case strings.HasSuffix(u.Path, "/c/b.rnc"):
		typ = BeaconConsent
	default:
		return Decoded{}, fmt.Errorf("%w: path %q", errNotBeacon, u.Path)
	}

	q := u.Query()
	n, err := strconv.Atoi(q.Get("n"))
	if err != nil {
		return Decoded{}, fmt.Errorf("%w: bad n: %w", errNotBeacon, err)
	}
	size, err := strconv.Atoi(q.Get("s"))
	if err != nil {
		return Decoded{}, fmt.Errorf("%w: bad s: %w", errNotBeacon, err)
	}
	compressed, err := codec.DecodeURLSafe(q.Get("d"))
	if err != nil {
		return Decoded{}, err
	}
	payload, err := codec.Decompress(compressed, size)
	if err != nil {
		return Decoded{}, err
	}

	return Decoded{Type: typ, Sequence: n, Query: q, Payload: payload}, nil
}
