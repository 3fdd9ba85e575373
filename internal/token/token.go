// Package token encodes routing state into the opaque identifiers carried by
// interactive components. A token survives process restarts and lands back at
// the dispatch registry with its prefix, suffix, and arguments intact, so
// multi-step flows need no server-side session.
package token

import (
	"bytes"
	"compress/flate"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// maxEncodedLen is the platform limit on a component identifier.
const maxEncodedLen = 100

const (
	sep = ";"

	// Format markers, first byte of every encoded token.
	markerLiteral  = '1'
	markerDeflated = '2'
)

var (
	ErrTooLong         = errors.New("token: encoded form exceeds length limit")
	ErrExpired         = errors.New("token: expired")
	ErrMalformed       = errors.New("token: malformed")
	ErrInvalidArgument = errors.New("token: invalid argument")
)

// Token is the decoded form of a component identifier.
type Token struct {
	Prefix string
	Suffix string
	Args   []string
	Expiry time.Time // zero means no expiry
}

// New builds a token with the given routing tag and arguments.
func New(prefix, suffix string, args ...string) Token {
	return Token{Prefix: prefix, Suffix: suffix, Args: args}
}

// WithExpiry returns a copy that decodes only before the given instant.
func (t Token) WithExpiry(at time.Time) Token {
	t.Expiry = at
	return t
}

// Arg returns the i-th argument or "" when out of range.
func (t Token) Arg(i int) string {
	if i < 0 || i >= len(t.Args) {
		return ""
	}
	return t.Args[i]
}

// Encode serializes the token. The compressed form is used only when it is
// shorter than the literal one, so output is deterministic for a given input.
func Encode(t Token) (string, error) {
	if t.Prefix == "" {
		return "", fmt.Errorf("%w: empty prefix", ErrInvalidArgument)
	}
	if strings.Contains(t.Prefix, sep) || strings.Contains(t.Prefix, ":") {
		return "", fmt.Errorf("%w: prefix %q contains reserved character", ErrInvalidArgument, t.Prefix)
	}
	if strings.Contains(t.Suffix, sep) {
		return "", fmt.Errorf("%w: suffix %q contains separator", ErrInvalidArgument, t.Suffix)
	}
	for _, a := range t.Args {
		if strings.Contains(a, sep) {
			return "", fmt.Errorf("%w: argument %q contains separator", ErrInvalidArgument, a)
		}
	}

	head := t.Prefix
	if t.Suffix != "" {
		head += ":" + t.Suffix
	}
	expiry := ""
	if !t.Expiry.IsZero() {
		expiry = strconv.FormatInt(t.Expiry.UnixMilli(), 36)
	}
	fields := make([]string, 0, 2+len(t.Args))
	fields = append(fields, head, expiry)
	fields = append(fields, t.Args...)
	payload := []byte(strings.Join(fields, sep))

	encoded := string(markerLiteral) + base64.RawURLEncoding.EncodeToString(payload)
	if deflated, err := deflate(payload); err == nil {
		alt := string(markerDeflated) + base64.RawURLEncoding.EncodeToString(deflated)
		if len(alt) < len(encoded) {
			encoded = alt
		}
	}

	if len(encoded) > maxEncodedLen {
		return "", fmt.Errorf("%w: %d bytes", ErrTooLong, len(encoded))
	}
	return encoded, nil
}

// Decode reverses Encode. Both literal and compressed forms are accepted
// regardless of which one Encode picked.
func Decode(s string) (Token, error) {
	if len(s) < 2 {
		return Token{}, fmt.Errorf("%w: too short", ErrMalformed)
	}
	raw, err := base64.RawURLEncoding.DecodeString(s[1:])
	if err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var payload []byte
	switch s[0] {
	case markerLiteral:
		payload = raw
	case markerDeflated:
		payload, err = inflate(raw)
		if err != nil {
			return Token{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	default:
		return Token{}, fmt.Errorf("%w: unknown format %q", ErrMalformed, s[0])
	}

	fields := strings.Split(string(payload), sep)
	if len(fields) < 2 {
		return Token{}, fmt.Errorf("%w: missing header fields", ErrMalformed)
	}

	var t Token
	head := fields[0]
	if head == "" {
		return Token{}, fmt.Errorf("%w: empty prefix", ErrMalformed)
	}
	if i := strings.Index(head, ":"); i >= 0 {
		t.Prefix, t.Suffix = head[:i], head[i+1:]
	} else {
		t.Prefix = head
	}

	if fields[1] != "" {
		ms, err := strconv.ParseInt(fields[1], 36, 64)
		if err != nil {
			return Token{}, fmt.Errorf("%w: bad expiry: %v", ErrMalformed, err)
		}
		t.Expiry = time.UnixMilli(ms)
		if time.Now().After(t.Expiry) {
			return Token{}, ErrExpired
		}
	}

	if len(fields) > 2 {
		t.Args = fields[2:]
	}
	return t, nil
}

func deflate(p []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(p); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func inflate(p []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(p))
	defer r.Close()
	// Payloads are tiny; bound the read anyway so a crafted token cannot
	// balloon memory.
	out, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return nil, err
	}
	return out, nil
}
