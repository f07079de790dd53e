package callback

import (
	"github.com/mitchellh/mapstructure"
)

// Result is the explicit handler return value. Success=false short-circuits
// the hook chain as a failure regardless of SkipScript; SkipScript=true with
// Success=true short-circuits with a skip directive.
type Result struct {
	Success    bool           `mapstructure:"success"`
	Message    string         `mapstructure:"message"`
	Data       map[string]any `mapstructure:"data"`
	SkipScript bool           `mapstructure:"skip_script"`
}

// OK returns a successful result.
func OK() *Result {
	return &Result{Success: true}
}

// Fail returns a failed result with the given message.
func Fail(message string) *Result {
	return &Result{Success: false, Message: message}
}

// Skip returns a result that skips the current script.
func Skip(message string) *Result {
	return &Result{Success: true, Message: message, SkipScript: true}
}

// resultFromValue maps an arbitrary struct (or pointer to struct) returned by
// a handler into a Result. Handlers built outside this module may return their
// own result shape; field names follow the wire names success, message, data,
// skip_script.
func resultFromValue(v any) (*Result, bool) {
	out := Result{Success: true}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  &out,
		TagName: "mapstructure",
	})
	if err != nil {
		return nil, false
	}
	if err := dec.Decode(v); err != nil {
		return nil, false
	}
	return &out, true
}
