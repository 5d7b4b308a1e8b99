package client

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/coffercloud/coffer/crypto"
)

// BuildShareLink appends the exported share secret to a share URL as its
// fragment. The fragment stays on the client side of every HTTP request, so
// the server that minted the URL never sees the key material.
func BuildShareLink(shareURL, fragment string) (string, error) {
	u, err := url.Parse(shareURL)
	if err != nil {
		return "", fmt.Errorf("invalid share URL: %w", err)
	}
	if u.Fragment != "" {
		return "", fmt.Errorf("share URL already carries a fragment")
	}
	if fragment == "" {
		return "", fmt.Errorf("share fragment cannot be empty")
	}
	u.Fragment = fragment
	return u.String(), nil
}

// ParseShareLink splits a share link into its server-side token and its
// client-side fragment. The token is the last path segment; a link with no
// token is malformed. A missing fragment is not an error here so the caller
// can distinguish "no key supplied" from "broken link".
func ParseShareLink(link string) (token, fragment string, err error) {
	u, err := url.Parse(link)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", crypto.ErrMalformedShareLink, err)
	}
	path := strings.Trim(u.Path, "/")
	if path == "" {
		return "", "", fmt.Errorf("%w: no share token in URL path", crypto.ErrMalformedShareLink)
	}
	segments := strings.Split(path, "/")
	token = segments[len(segments)-1]
	if token == "" {
		return "", "", fmt.Errorf("%w: empty share token", crypto.ErrMalformedShareLink)
	}
	return token, u.Fragment, nil
}
