package toolhandlers

// registry maps the tool names produced by tool routing (the
// `<Tool name="...">` catalogue entries) to their handler.
var registry = map[string]Handler{
	"search":        Search,
	"item_details":  ItemDetails,
	"compare_items": CompareItems,
	"ensemble":      Ensemble,
	"statistics":    Statistics,
}

// Dispatch resolves a tool name to its Handler. ok is false for an unknown
// tool name; the Query Handler then logs a warning and runs the search
// handler instead.
func Dispatch(name string) (Handler, bool) {
	h, ok := registry[name]
	return h, ok
}
