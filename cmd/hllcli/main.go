// hllcli builds a single HyperLogLog sketch from newline-delimited input and
// reports its cardinality estimate, encoding, and serialized size. It is the
// offline counterpart to the HTTP API's update/estimate endpoints, useful for
// spot-checking a column's cardinality against a CSV extract or log file
// without standing up a server.
//
// Usage
// =====
//
//	hllcli < values.txt
//	hllcli -out sketch.bin < values.txt
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"

	"github.com/cespare/xxhash/v2"

	"hlldb.dev/hlldb/internal/hll"
)

func main() {
	outPath := flag.String("out", "", "write the serialized sketch to this path (optional)")
	flag.Parse()

	sketch := hll.New()
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var lines int64
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		sketch.Update(xxhash.Sum64(line))
		lines++
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "hllcli: reading input: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("lines read:       %d\n", lines)
	fmt.Printf("encoding:         %s\n", sketch.Kind())
	fmt.Printf("estimate:         %d\n", sketch.EstimateCardinality())
	fmt.Printf("serialized bytes: %d\n", sketch.SerializedSize())

	if *outPath != "" {
		if err := os.WriteFile(*outPath, sketch.Serialize(), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "hllcli: writing %s: %v\n", *outPath, err)
			os.Exit(1)
		}
	}
}
