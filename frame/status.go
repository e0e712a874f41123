package frame

// statusByIndex maps the static-table status indices used by an early
// compressed-status pseudo-header scheme to HTTP status codes.
var statusByIndex = map[uint8]int{
	8:  200,
	9:  204,
	10: 206,
	11: 304,
	12: 400,
	13: 404,
	14: 500,
}

// StatusFromIndex maps a 7-bit compressed status index to its HTTP status
// code. Unmapped values pass through unchanged.
func StatusFromIndex(idx uint8) int {
	if status, ok := statusByIndex[idx]; ok {
		return status
	}
	return int(idx)
}
