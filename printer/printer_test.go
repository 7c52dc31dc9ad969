package printer

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"xenosgpu/trace"
)

func TestFormatRecordLine(t *testing.T) {
	tests := []struct {
		name string
		rec  trace.Record
		want string
	}{
		{
			name: "type-3 packet carries the opcode name",
			rec: trace.Record{
				Type:      trace.RecordTypePacketStart,
				GuestAddr: 0xC0000000,
				Header:    0xC0023F00, // MEM_WRITE, count 3
				WordCount: 4,
			},
			want: "Idx:5; PACKET_START : MEM_WRITE packet at 0xC0000000, 4 words",
		},
		{
			name: "type-0 packet carries the packet type",
			rec: trace.Record{
				Type:      trace.RecordTypePacketStart,
				GuestAddr: 0xC0000010,
				Header:    0x00020100,
				WordCount: 4,
			},
			want: "Idx:5; PACKET_START : TYPE0 packet at 0xC0000010, 4 words",
		},
		{
			name: "stuffing header",
			rec: trace.Record{
				Type:      trace.RecordTypePacketStart,
				GuestAddr: 0xC0000020,
				Header:    0x0BADF00D,
				WordCount: 1,
			},
			want: "Idx:5; PACKET_START : stuffing packet at 0xC0000020",
		},
		{
			name: "memory write",
			rec: trace.Record{
				Type:       trace.RecordTypeMemoryWrite,
				GuestAddr:  0x10000000,
				ByteLength: 4,
			},
			want: "Idx:5; MEMORY_WRITE : write 0x10000000, 4 bytes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatRecordLine(5, 0, tt.rec)
			if got != tt.want {
				t.Errorf("FormatRecordLine = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatRecords_Nesting(t *testing.T) {
	records := []trace.Record{
		{Type: trace.RecordTypePacketStart, GuestAddr: 0xC0000000, Header: 0xC0013D00, WordCount: 2},
		{Type: trace.RecordTypeIndirectBufferStart, GuestAddr: 0x10002000, ByteLength: 12},
		{Type: trace.RecordTypePacketStart, GuestAddr: 0x10002000, Header: 0xC0022D00, WordCount: 3},
		{Type: trace.RecordTypePacketEnd},
		{Type: trace.RecordTypeIndirectBufferEnd},
		{Type: trace.RecordTypePacketEnd},
	}
	lines := FormatRecords(records)

	wantIndent := []int{0, 1, 2, 2, 1, 0}
	for i, line := range lines {
		rest := strings.SplitN(line, "; ", 2)[1]
		indent := (len(rest) - len(strings.TrimLeft(rest, " "))) / 2
		if indent != wantIndent[i] {
			t.Errorf("line %d indent = %d, want %d: %q", i, indent, wantIndent[i], line)
		}
	}
}

func TestSummary(t *testing.T) {
	records := []trace.Record{
		{Type: trace.RecordTypePacketStart},
		{Type: trace.RecordTypePacketEnd},
		{Type: trace.RecordTypePacketStart},
		{Type: trace.RecordTypePacketEnd},
		{Type: trace.RecordTypeMemoryWrite},
		{Type: trace.RecordTypeEvent, Event: trace.EventKindSwap},
	}
	got := Summary(records)
	want := "PACKET_START=2 PACKET_END=2 MEMORY_WRITE=1 EVENT=1"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Summary mismatch (-want +got):\n%s", diff)
	}

	if got := Summary(nil); got != "empty trace" {
		t.Errorf("Summary(nil) = %q", got)
	}
}
