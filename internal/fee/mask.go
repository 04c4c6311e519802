package fee

// MaskAddress redacts a receiver address for display: first 6 and last 4
// characters are kept. Addresses shorter than 10 characters are fully
// masked.
func MaskAddress(addr string) string {
	if len(addr) < 10 {
		return "***"
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}
