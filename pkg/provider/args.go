package provider

// Args is the parsed option bundle for one invocation: the selected provider
// name, the canonical handler identifier and the typed option values keyed
// by option name. Built fresh by the dispatcher for exactly one handler call.
type Args struct {
	Provider string
	Command  string

	values map[string]any
}

func NewArgs(provider, command string, values map[string]any) *Args {
	if values == nil {
		values = map[string]any{}
	}
	return &Args{Provider: provider, Command: command, values: values}
}

// String returns the named option value, or "" when absent.
func (a *Args) String(name string) string {
	v, _ := a.values[name].(string)
	return v
}

// Int returns the named option value, or 0 when absent.
func (a *Args) Int(name string) int {
	v, _ := a.values[name].(int)
	return v
}

// Bool returns the named option value, or false when absent.
func (a *Args) Bool(name string) bool {
	v, _ := a.values[name].(bool)
	return v
}

func (a *Args) Has(name string) bool {
	_, ok := a.values[name]
	return ok
}
