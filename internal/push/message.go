package push

// Frame types on the gateway channel.
const (
	frameMessage  = "message"
	frameRegister = "register"
	frameSend     = "send"
	frameAck      = "ack"
)

// frame is the JSON envelope for every gateway frame, inbound and outbound.
type frame struct {
	Type    string         `json:"type"`
	Message *wireMessage   `json:"message,omitempty"`
	Token   *DeviceToken   `json:"token,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// wireMessage mirrors the gateway JSON of a push message.
// Unexported — consumers get Message via toMessage() normalization.
type wireMessage struct {
	ID      string         `json:"id"`
	Title   string         `json:"title"`
	Body    string         `json:"body"`
	Data    map[string]any `json:"data"`
	Actions []wireAction   `json:"actions"`
}

type wireAction struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

func (m *wireMessage) toMessage() Message {
	msg := Message{
		ID:    m.ID,
		Title: m.Title,
		Body:  m.Body,
		Data:  m.Data,
	}

	for _, a := range m.Actions {
		msg.Actions = append(msg.Actions, Action{Label: a.Label, URL: a.URL})
	}

	return msg
}

// Message is a decoded push notification ready for display.
type Message struct {
	ID      string
	Title   string
	Body    string
	Data    map[string]any
	Actions []Action
}

// Action is a notification button.
type Action struct {
	Label string
	URL   string
}

// DeviceToken is a platform push token registered with the gateway.
type DeviceToken struct {
	Value      string `json:"value"`
	Platform   string `json:"platform"`
	InstanceID string `json:"instanceId"`
}
