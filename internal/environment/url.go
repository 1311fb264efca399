package environment

import (
	"errors"
	"net/url"
	"strings"
)

const (
	ProductionHost = "nexus.ensighten.com"
	DebugHost      = "nexus-test.ensighten.com"
)

var (
	ErrMissingClient      = errors.New("missing clientName")
	ErrMissingPublishPath = errors.New("missing publishPath")
	ErrMissingEnvironment = errors.New("missing environment")
)

// Host returns the nexus host for the debug flag.
func Host(debug bool) string {
	if debug {
		return DebugHost
	}
	return ProductionHost
}

// BuildURL returns the environment.json URL. Each value is trimmed and
// percent-encoded as a single path segment, so a "/" inside a value is
// escaped. Checks run in client, path, environment order.
func BuildURL(client, publishPath, env string, debug bool) (string, error) {
	client = strings.TrimSpace(client)
	publishPath = strings.TrimSpace(publishPath)
	env = strings.TrimSpace(env)

	switch {
	case client == "":
		return "", ErrMissingClient
	case publishPath == "":
		return "", ErrMissingPublishPath
	case env == "":
		return "", ErrMissingEnvironment
	}

	return "https://" + Host(debug) + "/privacy/environments/" +
		url.PathEscape(client) + "/" +
		url.PathEscape(publishPath) + "/" +
		url.PathEscape(env) + "/environment.json", nil
}

// ReferrerURL is the Referer sent with diagnostic beacons.
func ReferrerURL(client string, debug bool) string {
	return "https://" + Host(debug) + "/privacy/environments/" + url.PathEscape(strings.TrimSpace(client))
}
