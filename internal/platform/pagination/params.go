// Package pagination parses the limit and page_token query parameters shared
// by the list endpoints and round-trips the opaque cursor tokens they return.
package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize is used when the client omits limit.
	DefaultPageSize = 20
	// DefaultMaxPageSize caps limit to keep backend queries bounded.
	DefaultMaxPageSize = 100
)

var (
	ErrInvalidLimit     = errors.New("pagination: invalid limit")
	ErrInvalidPageToken = errors.New("pagination: invalid page_token")
)

// Params carries the pagination values extracted from a request.
type Params struct {
	PageSize  int
	PageToken string
	Cursor    Cursor
}

// Options adjusts the limit bounds for a given endpoint. Zero values fall
// back to the package defaults.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
}

func (o Options) bounds() (fallback, ceiling int) {
	ceiling = o.MaxPageSize
	if ceiling <= 0 {
		ceiling = DefaultMaxPageSize
	}
	fallback = o.DefaultPageSize
	if fallback <= 0 {
		fallback = DefaultPageSize
	}
	if fallback > ceiling {
		fallback = ceiling
	}
	return fallback, ceiling
}

// FromRequest parses pagination parameters from the request query string.
func FromRequest(r *http.Request, opts Options) (Params, error) {
	if r == nil {
		return Params{}, errors.New("pagination: nil request")
	}
	return Parse(r.URL.Query(), opts)
}

// Parse reads limit and page_token from the given query values. A limit
// above the maximum clamps rather than failing; a non-numeric one fails.
func Parse(values url.Values, opts Options) (Params, error) {
	limit, err := parseLimit(values.Get("limit"), opts)
	if err != nil {
		return Params{}, err
	}

	token := strings.TrimSpace(values.Get("page_token"))
	if token == "" {
		return Params{PageSize: limit}, nil
	}

	cursor, err := DecodeToken(token)
	if err != nil {
		return Params{}, err
	}
	return Params{PageSize: limit, PageToken: token, Cursor: cursor}, nil
}

func parseLimit(raw string, opts Options) (int, error) {
	fallback, ceiling := opts.bounds()

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}

	value, err := strconv.Atoi(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%w: must be an integer", ErrInvalidLimit)
	case value <= 0:
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidLimit)
	case value > ceiling:
		return ceiling, nil
	}
	return value, nil
}

// Must fills in the default page size for params built by hand rather than
// parsed from a request.
func Must(params Params) Params {
	if params.PageSize <= 0 {
		params.PageSize = DefaultPageSize
	}
	return params
}
