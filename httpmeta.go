/* SPDX-License-Identifier: BSD-2-Clause */

package seekablehttp

import (
	"net/http"
	"strconv"
	"strings"
)

// Metadata captures the validators and advertised length of a response.
type Metadata struct {
	ETag         string
	LastModified string
	ContentType  string
	// Length is the advertised length, or -1 if the server did not send one.
	Length int64
}

// FromHeaders extracts metadata from response headers.
// The total from Content-Range takes precedence over Content-Length.
func FromHeaders(h http.Header) Metadata {
	m := Metadata{
		ETag:         h.Get("ETag"),
		LastModified: h.Get("Last-Modified"),
		ContentType:  h.Get("Content-Type"),
		Length:       -1,
	}

	// Format: "bytes start-end/total"
	if cr := h.Get("Content-Range"); cr != "" {
		if parts := strings.Split(cr, "/"); len(parts) == 2 {
			if length, err := strconv.ParseInt(parts[1], 10, 64); err == nil {
				m.Length = length
			}
		}
		return m
	}
	if cl := h.Get("Content-Length"); cl != "" {
		if length, err := strconv.ParseInt(cl, 10, 64); err == nil {
			m.Length = length
		}
	}
	return m
}
