package board

import "time"

// Message is a post appended to a group's history. It is never mutated once
// created.
type Message struct {
	ID        int64
	Sender    string
	Group     string
	Subject   string
	Body      string
	CreatedAt time.Time
}
