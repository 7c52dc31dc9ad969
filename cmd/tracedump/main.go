// tracedump prints the records of a .xtr trace file.
package main

import (
	"flag"
	"fmt"
	"os"

	"xenosgpu/printer"
	"xenosgpu/trace"
)

func main() {
	var (
		summaryOnly = flag.Bool("summary", false, "print only per-type record counts")
	)
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: tracedump [-summary] <trace.xtr>")
		os.Exit(2)
	}

	header, records, err := trace.LoadFile(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "tracedump: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("title: %08X, %d records\n", header.TitleID, len(records))
	if !*summaryOnly {
		for _, line := range printer.FormatRecords(records) {
			fmt.Println(line)
		}
	}
	fmt.Println(printer.Summary(records))
}
