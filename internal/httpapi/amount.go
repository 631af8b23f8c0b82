package httpapi

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/R3E-Network/vault_ledger/internal/schema"
)

// Amount is a uint64 accepted as a JSON number or a decimal string.
type Amount uint64

func (a *Amount) UnmarshalJSON(data []byte) error {
	raw := bytes.Trim(bytes.TrimSpace(data), `"`)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return fmt.Errorf("amount is required")
	}
	v, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return fmt.Errorf("amount %s is not an unsigned 64-bit integer", raw)
	}
	*a = Amount(v)
	return nil
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(strconv.FormatUint(uint64(a), 10))), nil
}

// GenerationParam is a schema generation accepted as a JSON number or a
// string such as "3", "gen3" or "3.0.0". Values outside the known
// generations are rejected before any conversion.
type GenerationParam schema.Generation

func (g *GenerationParam) UnmarshalJSON(data []byte) error {
	raw := bytes.Trim(bytes.TrimSpace(data), `"`)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return fmt.Errorf("generation is required")
	}
	gen, err := schema.ParseGeneration(string(raw))
	if err != nil {
		return err
	}
	*g = GenerationParam(gen)
	return nil
}
