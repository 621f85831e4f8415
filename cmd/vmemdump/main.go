// Command vmemdump builds a small arena, runs a few allocations against
// it, and prints its segment layout, optionally brotli-compressed.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/nmxmxh/vmem/arena"
	"github.com/nmxmxh/vmem/vmemconfig"
)

func main() {
	size := flag.Uint64("size", 0x100000, "arena size in bytes")
	quantum := flag.Uint64("quantum", 0x1000, "allocation quantum in bytes")
	allocSize := flag.Uint64("alloc", 0x4000, "size of each demo allocation")
	count := flag.Int("count", 4, "number of demo allocations to make")
	compressed := flag.Bool("brotli", false, "brotli-compress the dump")
	flag.Parse()

	a, err := arena.Create("vmemdump", 0, *size, *quantum, nil, nil, vmemconfig.Options{})
	if err != nil {
		fmt.Fprintln(os.Stderr, "create:", err)
		os.Exit(1)
	}

	var bases []uint64
	for i := 0; i < *count; i++ {
		base, err := a.Alloc(context.Background(), *allocSize, 0)
		if err != nil {
			fmt.Fprintln(os.Stderr, "alloc:", err)
			break
		}
		bases = append(bases, base)
	}

	if *compressed {
		var buf bytes.Buffer
		if err := a.DumpBrotli(&buf); err != nil {
			fmt.Fprintln(os.Stderr, "dump:", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "dumped %d compressed bytes to stdout\n", buf.Len())
		os.Stdout.Write(buf.Bytes())
		return
	}

	if err := a.Dump(os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "dump:", err)
		os.Exit(1)
	}
}
