package main

// trace_gen.go is a tiny helper utility to generate deterministic
// execution traces for standalone benchmarking of the translation/
// speculation fabric (outside `go test`). It emits newline-separated
// events over a synthetic call graph of -funcs functions, each occupying
// -blocksize bytes of address space, with a Zipf-skewed call distribution
// so a handful of "hot" functions dominate (exercising SpecThreshold /
// branch_targets the same way a real guest workload would).
//
// Usage:
//
//	go run ./tools/trace_gen -n 1000000 -funcs 500 -seed=42 -out trace.txt
//
// Flags:
//
//	-n         number of events to generate (default 1e6)
//	-funcs     number of distinct functions in the synthetic call graph
//	-blocksize address-space span reserved per function (default 256)
//	-branchp   probability of a BRANCH event vs a straight-line EXEC (default 0.3)
//	-zipfs     Zipf s parameter for call-target skew (>1) (default 1.3)
//	-seed      RNG seed (default current time)
//	-out       output file (default stdout)
//
// Event lines: "EXEC <addr>", "BRANCH <src> <dst>", "CALL <caller> <callee>",
// one space-separated hex address per field (0x-prefixed).
//
// © 2025 fabric authors. MIT License.

import (
	"bufio"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"
)

func main() {
	var (
		n         = flag.Int("n", 1_000_000, "number of events to generate")
		funcs     = flag.Int("funcs", 500, "number of distinct functions in the call graph")
		blockSize = flag.Uint64("blocksize", 256, "address-space span reserved per function")
		branchP   = flag.Float64("branchp", 0.3, "probability of a BRANCH event vs straight-line EXEC")
		zipfS     = flag.Float64("zipfs", 1.3, "zipf s parameter for call-target skew (>1)")
		seedVal   = flag.Int64("seed", time.Now().UnixNano(), "PRNG seed")
		outPath   = flag.String("out", "", "output file (default stdout)")
	)
	flag.Parse()

	if *zipfS <= 1.0 {
		fmt.Fprintln(os.Stderr, "zipfs must be >1")
		os.Exit(1)
	}
	if *funcs <= 0 {
		fmt.Fprintln(os.Stderr, "funcs must be >0")
		os.Exit(1)
	}

	rnd := rand.New(rand.NewSource(*seedVal))
	callTarget := rand.NewZipf(rnd, *zipfS, 1.0, uint64(*funcs-1))

	var out *os.File
	var err error
	if *outPath == "" {
		out = os.Stdout
	} else {
		out, err = os.Create(*outPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "cannot create file:", err)
			os.Exit(1)
		}
		defer out.Close()
	}

	w := bufio.NewWriterSize(out, 1<<20)
	defer w.Flush()

	funcBase := func(idx uint64) uint64 { return idx * *blockSize }

	current := funcBase(0)
	for i := 0; i < *n; i++ {
		switch {
		case rnd.Float64() < 0.05:
			// occasional call into a Zipf-skewed target function.
			callee := funcBase(callTarget.Uint64())
			fmt.Fprintf(w, "CALL 0x%x 0x%x\n", current, callee)
			current = callee
		case rnd.Float64() < *branchP:
			target := current + uint64(rnd.Intn(16))
			fmt.Fprintf(w, "BRANCH 0x%x 0x%x\n", current, target)
			current = target
		default:
			fmt.Fprintf(w, "EXEC 0x%x\n", current)
			current += 4
		}
	}
}
