// Package http exposes the ledger as a JSON API.
//
// This file holds the request-side helpers: principal extraction, path ids
// and body decoding.

package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// HeaderUserID carries the authenticated principal set by the upstream proxy.
const HeaderUserID = "X-User-ID"

var (
	errMissingPrincipal = errors.New("missing principal")
	errInvalidPrincipal = errors.New("invalid principal")
)

// ParsePrincipal reads the caller's user id. It must be a positive integer.
func ParsePrincipal(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if raw == "" {
		return 0, errMissingPrincipal
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errInvalidPrincipal
	}
	return id, nil
}

// principalOrZero is used for logging and rate limit keys where an anonymous
// caller is acceptable.
func principalOrZero(r *http.Request) int64 {
	id, err := ParsePrincipal(r)
	if err != nil {
		return 0
	}
	return id
}

// ParsePathID reads a positive integer path value.
func ParsePathID(r *http.Request, name string) (int64, error) {
	raw := r.PathValue(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return id, nil
}

// DecodeJSON decodes the request body into v. Trailing data is rejected.
func DecodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return errors.New("request body is empty")
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("malformed JSON: %w", err)
	}
	if dec.More() {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

// Amount accepts either a JSON string ("12.50") or a JSON number (12.5).
// The literal text is kept so precision checks happen in the core.
type Amount string

func (a *Amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*a = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = Amount(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("amount must be a string or number")
	}
	*a = Amount(n.String())
	return nil
}

func (a *Amount) ptr() *string {
	if a == nil {
		return nil
	}
	s := string(*a)
	return &s
}
