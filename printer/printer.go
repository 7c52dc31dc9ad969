// Package printer formats trace records as text, one line per record, for
// the dump tools and for golden-file comparisons in tests.
package printer

import (
	"fmt"
	"strings"

	"xenosgpu/pm4"
	"xenosgpu/trace"
)

// FormatRecordLine formats one record with its stream index and the current
// nesting level, indenting nested packets the way the dump tools print them.
func FormatRecordLine(index int, depth int, rec trace.Record) string {
	indent := strings.Repeat("  ", depth)
	desc := rec.Description()
	if rec.Type == trace.RecordTypePacketStart {
		desc = packetDescription(rec)
	}
	return fmt.Sprintf("Idx:%d; %s%s : %s", index, indent, rec.Type, desc)
}

// packetDescription decodes the recorded header word so packet-start lines
// carry the packet type and, for Type-3, the opcode name.
func packetDescription(rec trace.Record) string {
	// Stuffing headers are traced as one-word packets; they have no type.
	if rec.Header == 0x00000000 || rec.Header == 0x0BADF00D {
		return fmt.Sprintf("stuffing packet at 0x%08X", rec.GuestAddr)
	}
	packetType := pm4.PacketType(rec.Header >> 30)
	if packetType == pm4.PacketType3 {
		opcode := pm4.Type3Opcode((rec.Header >> 8) & 0x7F)
		return fmt.Sprintf("%s packet at 0x%08X, %d words",
			opcode, rec.GuestAddr, rec.WordCount)
	}
	return fmt.Sprintf("%s packet at 0x%08X, %d words",
		packetType, rec.GuestAddr, rec.WordCount)
}

// FormatRecords renders a whole record stream, tracking nesting across
// packet and indirect-buffer boundaries.
func FormatRecords(records []trace.Record) []string {
	lines := make([]string, 0, len(records))
	depth := 0
	for i, rec := range records {
		switch rec.Type {
		case trace.RecordTypePacketEnd, trace.RecordTypeIndirectBufferEnd:
			if depth > 0 {
				depth--
			}
		}
		lines = append(lines, FormatRecordLine(i, depth, rec))
		switch rec.Type {
		case trace.RecordTypePacketStart, trace.RecordTypeIndirectBufferStart:
			depth++
		}
	}
	return lines
}

// Summary condenses a record stream into per-type counts, formatted
// deterministically for test output and tool footers.
func Summary(records []trace.Record) string {
	counts := map[trace.RecordType]int{}
	for _, rec := range records {
		counts[rec.Type]++
	}
	order := []trace.RecordType{
		trace.RecordTypePacketStart,
		trace.RecordTypePacketEnd,
		trace.RecordTypeMemoryRead,
		trace.RecordTypeMemoryWrite,
		trace.RecordTypeIndirectBufferStart,
		trace.RecordTypeIndirectBufferEnd,
		trace.RecordTypeEvent,
	}
	parts := make([]string, 0, len(order))
	for _, t := range order {
		if counts[t] > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", t, counts[t]))
		}
	}
	if len(parts) == 0 {
		return "empty trace"
	}
	return strings.Join(parts, " ")
}
