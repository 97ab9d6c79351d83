package domain

// Notification is one queue message announcing new objects.
// It is removed from its queue once every object reached a terminal phase.
type Notification struct {
	// ID is the queue's message identifier.
	ID string

	// Receipt is the handle needed to delete the message.
	Receipt string

	// Objects are the created objects announced by the message. A message
	// announcing nothing, such as an S3 test event, has none.
	Objects []ObjectRef
}
