package quantum

import "fmt"

// BitstringLabel renders a basis state as a bitstring of width n with
// character j holding qubit j, so |5⟩ over three qubits is "101".
func BitstringLabel(b uint64, n int) string {
	buf := make([]byte, n)
	for j := 0; j < n; j++ {
		if b>>uint(j)&1 == 1 {
			buf[j] = '1'
		} else {
			buf[j] = '0'
		}
	}
	return string(buf)
}

// ParseBitstring parses a bitstring label back into a basis-state index.
// Character j of the label holds qubit j.
func ParseBitstring(s string) (uint64, error) {
	if len(s) > MaxQubits {
		return 0, fmt.Errorf("bitstring %q exceeds %d qubits", s, MaxQubits)
	}
	var b uint64
	for j := 0; j < len(s); j++ {
		switch s[j] {
		case '0':
		case '1':
			b |= 1 << uint(j)
		default:
			return 0, fmt.Errorf("invalid bit %q at position %d", s[j], j)
		}
	}
	return b, nil
}
