package types

// RabbitMQMessage is the envelope of a prewarm job on the resize queues.
type RabbitMQMessage struct {
	Pattern string    `json:"pattern"`
	Data    ResizeJob `json:"data"`
}
