// Package provider describes MDS provider endpoints and builds the initial
// request for a trips or status-changes query.
package provider

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

const (
	contentTypeJSON   = "application/json"
	acceptMediaPrefix = "application/vnd.mds.provider+json;version="
	defaultVersion    = "0.2"
)

var (
	// ErrUnsupportedVersion is returned when the API version has no known
	// dialect for the requested kind.
	ErrUnsupportedVersion = errors.New("unsupported provider API version")

	// ErrMissingEndpoint is returned when the descriptor has no URL for the
	// requested kind.
	ErrMissingEndpoint = errors.New("provider endpoint not configured")
)

// Kind selects the record type of a query.
type Kind string

const (
	Trips         Kind = "trips"
	StatusChanges Kind = "status_changes"
)

// Kinds lists every supported record kind in ingestion order.
var Kinds = []Kind{Trips, StatusChanges}

// ParseKind converts a CLI/config value into a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trips", "trip":
		return Trips, nil
	case "status_changes", "status-changes", "changes", "change":
		return StatusChanges, nil
	default:
		return "", fmt.Errorf("unknown kind %q (want trips or status_changes)", s)
	}
}

// Field returns the JSON key under "data" holding the record array.
func (k Kind) Field() string {
	return string(k)
}

func (k Kind) String() string {
	return string(k)
}

// Descriptor holds one provider's endpoints and credentials.
type Descriptor struct {
	Name          string
	Trips         string
	StatusChanges string
	Token         string
	Version       string
}

// Endpoint returns the base URL for kind.
func (d Descriptor) Endpoint(kind Kind) string {
	switch kind {
	case Trips:
		return d.Trips
	case StatusChanges:
		return d.StatusChanges
	default:
		return ""
	}
}

// Window is a query range in seconds since the epoch.
type Window struct {
	Start int64
	Stop  int64
}

// Request is a GET request target plus the headers to send with every page.
type Request struct {
	URL    string
	Header http.Header
}

// BuildRequest returns the first-page request for kind over w.
func BuildRequest(d Descriptor, kind Kind, w Window) (Request, error) {
	switch kind {
	case Trips:
		return buildTrips(d, w)
	case StatusChanges:
		return buildStatusChanges(d, w)
	default:
		return Request{}, fmt.Errorf("unknown kind %q", kind)
	}
}

// Headers returns the headers every provider request carries.
func Headers(d Descriptor) http.Header {
	h := http.Header{}
	h.Set("Content-Type", contentTypeJSON)
	h.Set("Authorization", d.Token)
	if d.Version != "" && !strings.HasPrefix(d.Version, "0.2") {
		h.Set("Accept", acceptMediaPrefix+d.Version)
	}
	return h
}

func buildTrips(d Descriptor, w Window) (Request, error) {
	if d.Trips == "" {
		return Request{}, fmt.Errorf("%s: %w: trips", d.Name, ErrMissingEndpoint)
	}

	v := d.Version
	if v == "" {
		v = defaultVersion
	}

	var query string
	switch {
	case strings.HasPrefix(v, "0.3"):
		query = rangeQuery("min_end_time", "max_end_time", w)
	case strings.HasPrefix(v, "0.2"):
		query = rangeQuery("start_time", "end_time", w)
	default:
		return Request{}, fmt.Errorf("%s: %w: %q (want 0.2.x or 0.3.x)", d.Name, ErrUnsupportedVersion, v)
	}

	return Request{URL: d.Trips + "?" + query, Header: Headers(d)}, nil
}

// buildStatusChanges does not branch on version: every dialect takes
// start_time/end_time for this endpoint.
func buildStatusChanges(d Descriptor, w Window) (Request, error) {
	if d.StatusChanges == "" {
		return Request{}, fmt.Errorf("%s: %w: status_changes", d.Name, ErrMissingEndpoint)
	}
	query := rangeQuery("start_time", "end_time", w)
	return Request{URL: d.StatusChanges + "?" + query, Header: Headers(d)}, nil
}

func rangeQuery(startKey, stopKey string, w Window) string {
	return startKey + "=" + strconv.FormatInt(w.Start, 10) + "&" + stopKey + "=" + strconv.FormatInt(w.Stop, 10)
}
