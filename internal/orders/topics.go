package orders

const (
	TopicOrderPlaced        = "order.placed"
	TopicOrderStatusChanged = "order.status.changed"
)

// PartitionKey keys every event of one order to the same partition so they
// stay in order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
