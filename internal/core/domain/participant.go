package domain

// Participant is a remote member of the active call as seen by the view
// layer. The local user is never a Participant.
type Participant struct {
	UserID       UserID `json:"userId"`
	LinkID       LinkID `json:"linkId"`
	Name         string `json:"name,omitempty"`
	AvatarRef    string `json:"avatar,omitempty"`
	AudioEnabled bool   `json:"audioEnabled"`
	VideoEnabled bool   `json:"videoEnabled"`
}

// NewParticipant builds a participant for a freshly announced relay
// connection. Remote media is assumed on until a media-state says otherwise.
func NewParticipant(entry RosterEntry) Participant {
	return Participant{
		UserID:       entry.UserID,
		LinkID:       entry.LinkID,
		Name:         entry.Name,
		AvatarRef:    entry.Avatar,
		AudioEnabled: true,
		VideoEnabled: true,
	}
}
