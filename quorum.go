package quorumlock

// Majority returns the number of nodes that must agree for a lock over n
// nodes: floor(n/2)+1.
func Majority(n int) int {
	return n/2 + 1
}
