package contracts

import (
	"fmt"
	"strconv"

	"github.com/core-coin/core-etl-go/internal/types"
)

const cbc20Kind = "cbc20"

const (
	selectorTransfer      = "4b40e901" // transfer(address,uint256)
	selectorBatchTransfer = "e86e7c5f" // batchTransfer(address[],uint256[])
	selectorTransferFrom  = "31f2e679" // transferFrom(address,address,uint256)
)

// CBC20 decodes transfer/batchTransfer/transferFrom call data for a single
// watched CBC-20 contract. Slicing offsets are taken over the full input
// hex string, selector included, per spec.
type CBC20 struct {
	address string
}

// NewCBC20 constructs a processor for the given (already-normalized)
// contract address.
func NewCBC20(address string) *CBC20 {
	return &CBC20{address: types.NormalizeHex(address)}
}

func (c *CBC20) Address() string { return c.address }
func (c *CBC20) Kind() string    { return cbc20Kind }

func (c *CBC20) Recognizes(input string) bool {
	sel := selector(input)
	return sel == selectorTransfer || sel == selectorBatchTransfer || sel == selectorTransferFrom
}

func selector(input string) string {
	input = types.NormalizeHex(input)
	if len(input) < 8 {
		return ""
	}
	return input[:8]
}

// Decode dispatches on the 4-byte selector. Decode must only be called after
// Recognizes returns true; an unrecognized selector here is a programming
// error and panics so operators notice coverage gaps.
func (c *CBC20) Decode(from, input string) []Transfer {
	input = types.NormalizeHex(input)
	switch selector(input) {
	case selectorTransfer:
		return []Transfer{{
			Index: 0,
			From:  from,
			To:    input[28:72],
			Value: input[72:136],
		}}
	case selectorBatchTransfer:
		return decodeBatchTransfer(from, input)
	case selectorTransferFrom:
		return []Transfer{{
			Index: 0,
			From:  input[28:72],
			To:    input[92:136],
			Value: input[136:200],
		}}
	default:
		panic(fmt.Sprintf("cbc20: unsupported selector in input %q", input))
	}
}

func decodeBatchTransfer(from, input string) []Transfer {
	count, err := strconv.ParseUint(input[136:200], 16, 64)
	if err != nil {
		panic(fmt.Sprintf("cbc20: malformed batchTransfer count: %v", err))
	}
	out := make([]Transfer, 0, count)
	for i := uint64(0); i < count; i++ {
		toStart := 220 + i*64
		toEnd := 264 + i*64
		valStart := 264 + count*64 + i*64
		valEnd := 328 + count*64 + i*64
		out = append(out, Transfer{
			Index: int64(i),
			From:  from,
			To:    input[toStart:toEnd],
			Value: input[valStart:valEnd],
		})
	}
	return out
}
