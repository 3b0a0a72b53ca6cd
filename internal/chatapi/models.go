package chatapi

// DefaultModelID is used for chats that never picked a model.
const DefaultModelID = "openrouter/auto"

// Model is a selectable language model.
type Model struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Provider string `json:"provider"`
	Badge    string `json:"badge,omitempty"`
}

// Models is the catalogue offered by the model selector.
var Models = []Model{
	{ID: "openrouter/auto", Name: "OpenRouter Auto", Provider: "OpenRouter", Badge: "🟢"},
	{ID: "openrouter/free", Name: "OpenRouter Free", Provider: "OpenRouter", Badge: "🟢"},
	{ID: "nvidia/llama-nemotron-embed-vl-1b-v2:free", Name: "Llama Nemotron Embed VL 1B", Provider: "NVIDIA", Badge: "🟠"},
	{ID: "sourceful/riverflow-v2-pro", Name: "riverflow", Provider: "Sourceful", Badge: "🔵"},
}

// LookupModel reports whether id is in the catalogue.
func LookupModel(id string) (Model, bool) {
	for _, m := range Models {
		if m.ID == id {
			return m, true
		}
	}
	return Model{}, false
}
