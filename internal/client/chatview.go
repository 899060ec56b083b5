package client

import "github.com/melq/melq/internal/frame"

// ChatView is the client's local merge of one room: whatever the hub
// has told this node about it so far. There is no reconciliation with
// other clients' views; each node only ever sees what it was sent.
type ChatView struct {
	ChatID       string
	Name         string
	Participants []string
	History      []frame.MessageRecord
}

func (v *ChatView) hasParticipant(nodeID string) bool {
	for _, p := range v.Participants {
		if p == nodeID {
			return true
		}
	}
	return false
}

func (v *ChatView) addParticipant(nodeID string) {
	if !v.hasParticipant(nodeID) {
		v.Participants = append(v.Participants, nodeID)
	}
}
