package protocol

// Client audio capture format announced in the hello message.
const (
	clientSampleRate    = 16000
	clientChannels      = 1
	clientFrameDuration = 60 // milliseconds
)

// HelloMessage announces local capabilities and asks the server to open an
// audio channel.
type HelloMessage struct {
	Type        string      `json:"type"`
	Version     int         `json:"version"`
	Transport   string      `json:"transport"`
	AudioParams AudioParams `json:"audio_params"`
}

// NewHello builds the client hello.
func NewHello() *HelloMessage {
	return &HelloMessage{
		Type:      "hello",
		Version:   3,
		Transport: "udp",
		AudioParams: AudioParams{
			Format:        "opus",
			SampleRate:    clientSampleRate,
			Channels:      clientChannels,
			FrameDuration: clientFrameDuration,
		},
	}
}

// ListenMessage reports wake-word detection or requests a listening mode.
type ListenMessage struct {
	SessionID string `json:"session_id"`
	Type      string `json:"type"`
	State     string `json:"state"`
	Mode      string `json:"mode,omitempty"`
	Text      string `json:"text,omitempty"`
}

// NewWakeWordDetected builds the listen/detect message carrying the word
// that woke the device.
func NewWakeWordDetected(sessionID, wakeWord string) *ListenMessage {
	return &ListenMessage{
		SessionID: sessionID,
		Type:      "listen",
		State:     "detect",
		Text:      wakeWord,
	}
}

// NewStartAutoListening builds the listen/start message that resumes
// automatic listening after the server finished speaking.
func NewStartAutoListening(sessionID string) *ListenMessage {
	return &ListenMessage{
		SessionID: sessionID,
		Type:      "listen",
		State:     "start",
		Mode:      "auto",
	}
}

// GoodbyeMessage ends the named session.
type GoodbyeMessage struct {
	SessionID string `json:"session_id"`
	Type      string `json:"type"`
}

// NewGoodbye builds a goodbye for the given session.
func NewGoodbye(sessionID string) *GoodbyeMessage {
	return &GoodbyeMessage{SessionID: sessionID, Type: "goodbye"}
}

// IoTDescriptor advertises one controllable device capability.
type IoTDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Properties  map[string]any `json:"properties"`
	Methods     map[string]any `json:"methods"`
}

// IoTMessage carries either capability descriptors or current property
// values, addressed to a session.
type IoTMessage struct {
	SessionID   string          `json:"session_id"`
	Type        string          `json:"type"`
	Descriptors []IoTDescriptor `json:"descriptors,omitempty"`
	States      []IoTState      `json:"states,omitempty"`
}

// IoTState reports the current property values of one device.
type IoTState struct {
	Name  string         `json:"name"`
	State map[string]any `json:"state"`
}

// NewIoTDescriptors builds the static capability advertisement sent after a
// session is negotiated.
func NewIoTDescriptors(sessionID string) *IoTMessage {
	return &IoTMessage{
		SessionID: sessionID,
		Type:      "iot",
		Descriptors: []IoTDescriptor{
			{
				Name:        "Speaker",
				Description: "the assistant's loudspeaker",
				Properties: map[string]any{
					"volume": map[string]any{
						"description": "current volume level",
						"type":        "number",
					},
				},
				Methods: map[string]any{
					"SetVolume": map[string]any{
						"description": "set the volume",
						"parameters": map[string]any{
							"volume": map[string]any{
								"description": "an integer between 0 and 100",
								"type":        "number",
							},
						},
					},
				},
			},
			{
				Name:        "Lamp",
				Description: "a controllable lamp",
				Properties: map[string]any{
					"power": map[string]any{
						"description": "whether the lamp is on",
						"type":        "boolean",
					},
				},
				Methods: map[string]any{
					"TurnOn": map[string]any{
						"description": "turn the lamp on",
						"parameters":  map[string]any{},
					},
					"TurnOff": map[string]any{
						"description": "turn the lamp off",
						"parameters":  map[string]any{},
					},
				},
			},
		},
	}
}

// NewIoTStates builds the current property values advertisement.
func NewIoTStates(sessionID string, volume int, lampOn bool) *IoTMessage {
	return &IoTMessage{
		SessionID: sessionID,
		Type:      "iot",
		States: []IoTState{
			{Name: "Speaker", State: map[string]any{"volume": volume}},
			{Name: "Lamp", State: map[string]any{"power": lampOn}},
		},
	}
}
