package status

// Status represents the delivery state of a message.
type Status string

const (
	Sent      Status = "sent"
	Delivered Status = "delivered"
	Read      Status = "read"
)

// rank defines the total order sent < delivered < read. Unknown values
// rank below sent so a corrupt row can never mask a real status.
var rank = map[Status]int{
	Sent:      1,
	Delivered: 2,
	Read:      3,
}

// Rank returns the position of s in the delivery order, 0 if unknown.
func Rank(s Status) int {
	return rank[s]
}

// Valid reports whether s is one of the three known statuses.
func Valid(s Status) bool {
	return rank[s] != 0
}

// Merge combines two statuses monotonically: the result is whichever is
// further along the delivery order. A late "delivered" confirmation
// arriving after "read" merges to "read", never backward.
func Merge(current, incoming Status) Status {
	if rank[incoming] > rank[current] {
		return incoming
	}
	return current
}
