package contracts

import "fmt"

// New constructs the Processor for a known contract_kind. "ctn" is not a
// kind itself -- it is a watch_tokens address literal expanded by the config
// layer before reaching here; by the time New is called, kind is always a
// concrete decoder name such as "cbc20".
func New(kind, address string) (Processor, error) {
	switch kind {
	case cbc20Kind:
		return NewCBC20(address), nil
	default:
		return nil, fmt.Errorf("contracts: unknown contract kind %q", kind)
	}
}
