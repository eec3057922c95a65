package types

// Command is an outbound instruction for the realtime transport.
type Command interface {
	CommandName() string
}

// CreateConversationItem injects an item into the remote conversation.
type CreateConversationItem struct {
	Item HistoryItem
}

func (CreateConversationItem) CommandName() string { return "conversation.item.create" }

// RequestResponse asks the transport to produce the next agent turn.
type RequestResponse struct{}

func (RequestResponse) CommandName() string { return "response.create" }

// CancelResponse interrupts the response currently being produced.
type CancelResponse struct{}

func (CancelResponse) CommandName() string { return "response.cancel" }

// TurnDetection configures voice-activity turn detection. A nil
// *TurnDetection in UpdateSessionConfig selects manual (push-to-talk) turns.
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMS   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMS int     `json:"silence_duration_ms,omitempty"`
	CreateResponse    bool    `json:"create_response"`
}

// DefaultServerVAD mirrors the realtime service's recommended VAD settings.
func DefaultServerVAD() *TurnDetection {
	return &TurnDetection{
		Type:              "server_vad",
		Threshold:         0.9,
		PrefixPaddingMS:   300,
		SilenceDurationMS: 500,
		CreateResponse:    true,
	}
}

// UpdateSessionConfig replaces the remote session configuration.
type UpdateSessionConfig struct {
	Instructions  string
	Voice         string
	Tools         []Tool
	TurnDetection *TurnDetection
	Modalities    []string
}

func (UpdateSessionConfig) CommandName() string { return "session.update" }

// ClearAudioBuffer discards uncommitted input audio.
type ClearAudioBuffer struct{}

func (ClearAudioBuffer) CommandName() string { return "input_audio_buffer.clear" }

// CommitAudioBuffer ends a manual speech turn.
type CommitAudioBuffer struct{}

func (CommitAudioBuffer) CommandName() string { return "input_audio_buffer.commit" }

// AppendAudio streams base64 encoded input audio.
type AppendAudio struct {
	AudioB64 string
}

func (AppendAudio) CommandName() string { return "input_audio_buffer.append" }
