package protocol

// EncodeSelectiveRepeat builds a SELECTIVE_REPEAT payload: one byte per
// missing fragment sequence number
func EncodeSelectiveRepeat(missing []int) []byte {
	buf := make([]byte, 0, len(missing))
	for _, idx := range missing {
		if idx < 0 || idx > MaxPacketCount {
			continue
		}
		buf = append(buf, byte(idx))
	}
	return buf
}

// DecodeSelectiveRepeat returns the requested fragment indices with
// duplicates removed, preserving request order
func DecodeSelectiveRepeat(payload []byte) []int {
	var seen [MaxPacketCount + 1]bool
	out := make([]int, 0, len(payload))
	for _, b := range payload {
		if seen[b] {
			continue
		}
		seen[b] = true
		out = append(out, int(b))
	}
	return out
}
