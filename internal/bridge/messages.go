package bridge

// FlowMessage is the wire shape exchanged with the flow runtime.
// Inbound messages arrive on the device's in topic; outbound messages
// are published on its out topic.
type FlowMessage struct {
	// Topic selects special handling ("battery") or names the attribute
	// an outbound message reports. Optional on input.
	Topic string `json:"topic,omitempty"`

	// Payload carries the ad-hoc flow value: a bare boolean or number,
	// or an object for multi-attribute updates.
	Payload any `json:"payload"`
}

// StatusMessage is published on a device's status topic to surface
// lifecycle transitions and per-message failures to the flow author.
type StatusMessage struct {
	// State is the synchronizer state at the time of publication.
	State string `json:"state"`

	// Error describes a failure, empty for plain lifecycle updates.
	Error string `json:"error,omitempty"`
}

// PendingWrite is one validated candidate attribute write, produced by
// a device type or the battery subsystem and committed by the
// synchronizer after change detection.
type PendingWrite struct {
	Attribute string
	Value     any
}
