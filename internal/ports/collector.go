package ports

// FrameHandler consumes one raw inbound frame. Implementations must be safe for
// concurrent use by several collectors.
type FrameHandler func(raw []byte)

// Collector is a producer transport that is not connection-oriented (MQTT and
// similar brokers). Connection-oriented transports use ProducerConn instead.
type Collector interface {
	Start(handle FrameHandler) error
	Stop() error
	Name() string
}
