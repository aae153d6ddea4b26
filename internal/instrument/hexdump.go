package instrument

import (
	"fmt"
	"strings"
)

const dumpCols = 16

// HexDump renders b as rows of 16 bytes with an offset column and a printable
// ASCII gutter. Used when logging malformed responses and received packets.
func HexDump(b []byte) string {
	var sb strings.Builder

	sb.WriteString("       ")
	for i := 0; i < dumpCols; i++ {
		fmt.Fprintf(&sb, "%02X ", i)
	}
	sb.WriteString("\n")

	for i := 0; i < len(b); i += dumpCols {
		end := i + dumpCols
		if end > len(b) {
			end = len(b)
		}

		fmt.Fprintf(&sb, "%04X:  ", i)
		for j := i; j < i+dumpCols; j++ {
			if j < end {
				fmt.Fprintf(&sb, "%02X ", b[j])
			} else {
				sb.WriteString("   ")
			}
		}

		sb.WriteString(" |")
		for _, c := range b[i:end] {
			if c >= 0x20 && c < 0x7f {
				sb.WriteByte(c)
			} else {
				sb.WriteByte('.')
			}
		}
		sb.WriteString("|\n")
	}

	return sb.String()
}
