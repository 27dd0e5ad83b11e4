package engine

import "fmt"

// ConfigError reports an invalid CostConfig. Fatal: rejected before any
// simulation starts.
type ConfigError struct {
	Param  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid cost config: %s: %s", e.Param, e.Reason)
}

// DataError reports unusable input data for one symbol. In a multi-symbol
// risk report it fails only the affected symbol, never its siblings.
type DataError struct {
	Symbol string
	Stage  string
	Reason string
}

func (e *DataError) Error() string {
	return fmt.Sprintf("data error: symbol=%s stage=%s: %s", e.Symbol, e.Stage, e.Reason)
}
