package contracts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCBC20_Recognizes(t *testing.T) {
	c := NewCBC20("cb19c7acc4c292d2943ba23c2eaa5d9c5a6652a8710c")

	assert.True(t, c.Recognizes("4b40e901"+"00"))
	assert.True(t, c.Recognizes("e86e7c5f"+"00"))
	assert.True(t, c.Recognizes("31f2e679"+"00"))
	assert.False(t, c.Recognizes("deadbeef"))
	assert.False(t, c.Recognizes("abc"))
}

func TestCBC20_Decode_SingleTransfer(t *testing.T) {
	c := NewCBC20("cb19c7acc4c292d2943ba23c2eaa5d9c5a6652a8710c")

	input := "4b40e901" +
		"00000000000000000000ab416902d2548d52352a05423d13266ee7aaf140a068" +
		"0000000000000000000000000000000000000000000000000000000000000001"

	transfers := c.Decode("ab0000000000000000000000000000000000000000", input)

	require.Len(t, transfers, 1)
	assert.Equal(t, int64(0), transfers[0].Index)
	assert.Equal(t, "ab0000000000000000000000000000000000000000", transfers[0].From)
	assert.Equal(t, "ab416902d2548d52352a05423d13266ee7aaf140a068", transfers[0].To)
	assert.Equal(t, "0000000000000000000000000000000000000000000000000000000000000001", transfers[0].Value)
}

// word left-pads s with zeros to a 64-char (32-byte) ABI word.
func word(s string) string {
	if len(s) > 64 {
		panic("test fixture: value longer than one word")
	}
	return strings.Repeat("0", 64-len(s)) + s
}

func TestCBC20_Decode_BatchTransfer(t *testing.T) {
	c := NewCBC20("cb19c7acc4c292d2943ba23c2eaa5d9c5a6652a8710c")

	addr1 := "ab416902d2548d52352a05423d13266ee7aaf140a068" // 44 hex chars
	addr2 := "ab416902d2548d52352a05423d13266ee7aaf140a069"
	val1 := word("a")
	val2 := word("b")

	input := "e86e7c5f" +
		word("40") + // offset1, unread by the decoder
		word("a0") + // offset2, unread by the decoder
		word("2") + // count
		word(addr1) +
		word(addr2) +
		word("2") + // repeated count word, unread by the decoder
		val1 +
		val2

	from := "cd0000000000000000000000000000000000000000"
	transfers := c.Decode(from, input)

	require.Len(t, transfers, 2)
	assert.Equal(t, int64(0), transfers[0].Index)
	assert.Equal(t, from, transfers[0].From)
	assert.Equal(t, addr1, transfers[0].To)
	assert.Equal(t, val1, transfers[0].Value)

	assert.Equal(t, int64(1), transfers[1].Index)
	assert.Equal(t, from, transfers[1].From)
	assert.Equal(t, addr2, transfers[1].To)
	assert.Equal(t, val2, transfers[1].Value)
}

func TestCBC20_Decode_TransferFrom(t *testing.T) {
	c := NewCBC20("cb19c7acc4c292d2943ba23c2eaa5d9c5a6652a8710c")

	fromAddr := "ab416902d2548d52352a05423d13266ee7aaf140a068"
	toAddr := "ab416902d2548d52352a05423d13266ee7aaf140a069"
	val := word("c")

	input := "31f2e679" + word(fromAddr) + word(toAddr) + val

	transfers := c.Decode("ignored-for-transferfrom", input)

	require.Len(t, transfers, 1)
	assert.Equal(t, int64(0), transfers[0].Index)
	assert.Equal(t, fromAddr, transfers[0].From)
	assert.Equal(t, toAddr, transfers[0].To)
	assert.Equal(t, val, transfers[0].Value)
}

func TestCBC20_Decode_UnrecognizedSelectorPanics(t *testing.T) {
	c := NewCBC20("cb19c7acc4c292d2943ba23c2eaa5d9c5a6652a8710c")
	assert.Panics(t, func() {
		c.Decode("from", "deadbeef0000")
	})
}
