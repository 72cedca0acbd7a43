package ir

// Config is the evaluated top-level declaration.
type Config struct {
	Resources []*Resource    `pkl:"resources"`
	Outputs   map[string]any `pkl:"outputs"`
}
