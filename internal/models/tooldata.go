package models

// ToolData holds payment-tool artifacts collected across front-end round trips.
// Keys are validated only where they are consumed.
type ToolData map[string]any

const ToolDataErrorKey = "errorData"

// Merge returns a new map with other's keys written over d's.
func (d ToolData) Merge(other map[string]any) ToolData {
	out := make(ToolData, len(d)+len(other))
	for k, v := range d {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

func (d ToolData) Clone() ToolData {
	if d == nil {
		return nil
	}
	return d.Merge(nil)
}
