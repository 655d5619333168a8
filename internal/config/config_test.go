package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWatchTokens(t *testing.T) {
	tokens, err := ParseWatchTokens("cbc20:cb19c7acc4c292d2943ba23c2eaa5d9c5a6652a8710c,cbc20:ctn")
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	assert.Equal(t, "cbc20", tokens[0].Kind)
	assert.Equal(t, "cb19c7acc4c292d2943ba23c2eaa5d9c5a6652a8710c", tokens[0].Address)
	assert.Equal(t, "ctn", tokens[1].Address)
}

func TestParseWatchTokens_Empty(t *testing.T) {
	tokens, err := ParseWatchTokens("")
	require.NoError(t, err)
	assert.Nil(t, tokens)
}

func TestParseWatchTokens_Malformed(t *testing.T) {
	_, err := ParseWatchTokens("cbc20-missing-colon")
	assert.Error(t, err)
}

func TestParseAddressFilter(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, ParseAddressFilter("a,b"))
	assert.Nil(t, ParseAddressFilter(""))
}

func TestExpandWatchTokens_ExpandsCTN(t *testing.T) {
	raw := []WatchToken{{Kind: "cbc20", Address: "ctn"}, {Kind: "cbc20", Address: "cb123"}}
	expanded := ExpandWatchTokens(raw, func() string { return "core-token-address" })
	require.Len(t, expanded, 2)
	assert.Equal(t, "core-token-address", expanded[0].Address)
	assert.Equal(t, "cb123", expanded[1].Address)
}
