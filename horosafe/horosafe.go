// Package horosafe holds the small security primitives shared by the
// webhook, staff and channel layers: secret validation, constant-time token
// comparison, bounded body reads and public URL checks for media links.
package horosafe

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
)

// MinSecretLen is the minimum length for symmetric secrets used to sign
// staff tokens. 32 bytes = 256 bits.
const MinSecretLen = 32

// MaxWebhookBody caps provider webhook payloads (1 MiB).
const MaxWebhookBody int64 = 1 << 20

// MaxResponseBody caps provider API responses read into memory (1 MiB).
const MaxResponseBody int64 = 1 << 20

var (
	// ErrSecretTooShort is returned when a secret does not meet MinSecretLen.
	ErrSecretTooShort = fmt.Errorf("horosafe: secret must be at least %d bytes", MinSecretLen)

	// ErrTooLarge is returned by LimitedReadAll when the limit is exceeded.
	ErrTooLarge = errors.New("horosafe: body exceeds limit")

	// ErrUnsafeURL is returned when a media link is not a public http(s) URL.
	ErrUnsafeURL = errors.New("horosafe: URL must be a public http(s) address")
)

// ValidateSecret checks that secret is at least MinSecretLen bytes.
func ValidateSecret(secret []byte) error {
	if len(secret) < MinSecretLen {
		return ErrSecretTooShort
	}
	return nil
}

// EqualToken compares two tokens in constant time. Empty tokens never match.
func EqualToken(got, want string) bool {
	if got == "" || want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// LimitedReadAll reads at most maxBytes from r. It returns ErrTooLarge
// (wrapped) if r holds more.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, maxBytes)
	}
	return data, nil
}

// ValidatePublicURL checks that raw is an absolute http(s) URL whose host is
// not a literal loopback, private or link-local address. Hostnames are not
// resolved: the provider fetches the link, not this process.
func ValidatePublicURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsafeURL, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return ErrUnsafeURL
	}
	host := u.Hostname()
	if host == "" || strings.EqualFold(host, "localhost") {
		return ErrUnsafeURL
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
			return ErrUnsafeURL
		}
	}
	return nil
}
