package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coffercloud/coffer/crypto"
)

func TestBuildShareLink(t *testing.T) {
	link, err := BuildShareLink("https://coffer.example/shared/tok123", "AAAA.BBBB.CCCC.DDDD")
	require.NoError(t, err)
	assert.Equal(t, "https://coffer.example/shared/tok123#AAAA.BBBB.CCCC.DDDD", link)
}

func TestBuildShareLinkRejectsExistingFragment(t *testing.T) {
	_, err := BuildShareLink("https://coffer.example/shared/tok123#old", "new")
	assert.Error(t, err)
}

func TestBuildShareLinkRejectsEmptyFragment(t *testing.T) {
	_, err := BuildShareLink("https://coffer.example/shared/tok123", "")
	assert.Error(t, err)
}

func TestParseShareLink(t *testing.T) {
	token, fragment, err := ParseShareLink("https://coffer.example/shared/tok123#AAAA.BBBB.CCCC.DDDD")
	require.NoError(t, err)
	assert.Equal(t, "tok123", token)
	assert.Equal(t, "AAAA.BBBB.CCCC.DDDD", fragment)
}

func TestParseShareLinkWithoutFragment(t *testing.T) {
	token, fragment, err := ParseShareLink("https://coffer.example/shared/tok123")
	require.NoError(t, err)
	assert.Equal(t, "tok123", token)
	assert.Empty(t, fragment)
}

func TestParseShareLinkMalformed(t *testing.T) {
	tests := []struct {
		name string
		link string
	}{
		{"no path", "https://coffer.example"},
		{"root only", "https://coffer.example/"},
		{"control character", "https://coffer.example/shared/\x7f"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ParseShareLink(tt.link)
			assert.ErrorIs(t, err, crypto.ErrMalformedShareLink)
		})
	}
}

func TestShareLinkRoundTrip(t *testing.T) {
	link, err := BuildShareLink("https://coffer.example/shared/tok123", "frag.ment.goes.here")
	require.NoError(t, err)
	token, fragment, err := ParseShareLink(link)
	require.NoError(t, err)
	assert.Equal(t, "tok123", token)
	assert.Equal(t, "frag.ment.goes.here", fragment)
}
