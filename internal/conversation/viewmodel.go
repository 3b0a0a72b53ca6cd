package conversation

import (
	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/chatapi"
)

// DisplayTurn is a turn as rendered, with its reply audio if bound.
type DisplayTurn struct {
	Turn
	AudioURI   string `json:"audio_uri,omitempty"`
	Playing    bool   `json:"playing,omitempty"`
	Optimistic bool   `json:"optimistic,omitempty"`
}

// Merge appends the optimistic turn, if any, after the persisted turns.
func Merge(persisted []Turn, optimistic *Turn) []Turn {
	out := make([]Turn, 0, len(persisted)+1)
	out = append(out, persisted...)
	if optimistic != nil {
		out = append(out, *optimistic)
	}
	return out
}

// LatestAssistantID scans from the end for the last assistant turn.
func LatestAssistantID(turns []Turn) string {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == RoleAssistant {
			return turns[i].ID
		}
	}
	return ""
}

// TurnsFromChat converts a fetched chat. Assistant turns carry the chat's model.
func TurnsFromChat(chat chatapi.Chat) []Turn {
	out := make([]Turn, 0, len(chat.Messages))
	for _, m := range chat.Messages {
		t := Turn{ID: m.ID, Role: Role(m.Role), Content: m.Content, CreatedAt: m.CreatedAt.Time}
		if t.Role == RoleAssistant {
			t.ModelID = chat.ModelID
		}
		out = append(out, t)
	}
	return out
}

// BuildView merges persisted and optimistic turns and decorates them with
// audio bindings and the playback marker.
func BuildView(persisted []Turn, optimistic *Turn, bindings map[string]string, playing string) []DisplayTurn {
	merged := Merge(persisted, optimistic)
	out := make([]DisplayTurn, 0, len(merged))
	for _, t := range merged {
		d := DisplayTurn{Turn: t, Optimistic: t.ID == OptimisticID}
		if !d.Optimistic {
			d.AudioURI = bindings[t.ID]
			d.Playing = playing != "" && playing == t.ID
		}
		out = append(out, d)
	}
	return out
}
