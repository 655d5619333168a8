package provider

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// hexInt64 unmarshals a JSON-RPC quantity ("0x..." string) into an int64.
type hexInt64 int64

func (h *hexInt64) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("hexInt64: %w", err)
	}
	if s == "" {
		*h = 0
		return nil
	}
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		*h = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 16, 64)
	if err != nil {
		return fmt.Errorf("hexInt64: parse %q: %w", s, err)
	}
	*h = hexInt64(v)
	return nil
}

// hexBigInt unmarshals a JSON-RPC quantity into a big.Int for values that
// may exceed 64 bits (difficulty, value).
type hexBigInt big.Int

func (h *hexBigInt) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("hexBigInt: %w", err)
	}
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		s = "0"
	}
	v, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return fmt.Errorf("hexBigInt: parse %q", s)
	}
	*(*big.Int)(h) = *v
	return nil
}
