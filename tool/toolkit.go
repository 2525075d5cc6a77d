package tool

// Toolkit is a named set of tools registered together.
type Toolkit struct {
	name  string
	tools []Tool
}

// NewToolkit creates a toolkit.
func NewToolkit(name string, tools ...Tool) *Toolkit {
	return &Toolkit{name: name, tools: tools}
}

// Name returns the toolkit name.
func (tk *Toolkit) Name() string { return tk.name }

// Add appends tools to the toolkit.
func (tk *Toolkit) Add(tools ...Tool) { tk.tools = append(tk.tools, tools...) }

// Tools returns the tools of the toolkit.
func (tk *Toolkit) Tools() []Tool {
	out := make([]Tool, len(tk.tools))
	copy(out, tk.tools)
	return out
}
