// Package contracts holds the decoder registry that turns a transaction's
// call data into zero or more token-transfer tuples.
package contracts

// Transfer is a single decoded movement: intra-transaction ordinal, sender,
// recipient, and value (as a decimal-string-free raw hex word, left to the
// caller to interpret).
type Transfer struct {
	Index int64
	From  string
	To    string
	Value string
}

// Processor decodes a watched contract's call data. Each processor carries
// its own address and selector set; dispatch is tx.to == Address() then a
// selector match via Recognizes.
type Processor interface {
	// Address is the contract address this processor watches, lowercase hex
	// without a "0x" prefix.
	Address() string

	// Kind is the configured contract_kind (e.g. "cbc20").
	Kind() string

	// Recognizes reports whether input's selector (its first 8 hex chars)
	// is one this processor knows how to decode.
	Recognizes(input string) bool

	// Decode extracts transfers from input given the transaction's sender.
	// Decode must only be called when Recognizes(input) is true; an
	// unrecognized selector reaching Decode is a programming error and
	// Decode implementations panic (spec: coverage gaps must be noticed).
	Decode(from, input string) []Transfer
}

// TableName builds the per-contract transfer table name shared by every
// Processor implementation: "{prefix}_{kind}_{addr8}_transfers".
func TableName(prefix, kind, address string) string {
	addr8 := address
	if len(addr8) > 8 {
		addr8 = addr8[:8]
	}
	return prefix + "_" + kind + "_" + addr8 + "_transfers"
}
