package fluxtor

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Decode copies a payload into a typed value, typically a struct with json
// tags, so reducers and middleware can work with fields instead of maps.
//
// Decoding is weakly typed: "2" decodes into an int field, 2.0 into a string
// field as "2", and so on.
//
//	var login struct {
//	    User string `json:"user"`
//	}
//	if err := fluxtor.Decode(payload, &login); err != nil { ... }
func Decode(payload any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("create payload decoder: %w", err)
	}

	if err := decoder.Decode(payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
