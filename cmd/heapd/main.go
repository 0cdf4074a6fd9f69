// Command heapd is a small demonstration host for the buddy-allocation
// heap. With -wasm it runs a guest WASM module through a guest runtime
// whose own heap covers the configured byte region, prints the guest's
// result and exits without printing stats. Otherwise it constructs a
// guarded heap over that region, optionally serves it to remote peers
// over libp2p until interrupted, and prints allocator stats before
// exiting.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nmxmxh/inos-heap/guest"
	"github.com/nmxmxh/inos-heap/heap"
	"github.com/nmxmxh/inos-heap/heap/guard"
	"github.com/nmxmxh/inos-heap/hostnet"
	"github.com/nmxmxh/inos-heap/internal/logging"
)

func main() {
	reserved := flag.Uint("reserved", uint(64*heap.BlockSize), "bytes of backing region to track")
	wasmPath := flag.String("wasm", "", "path to a .wasm module to execute through the heap-tracked guest memory")
	input := flag.String("input", "", "input bytes to pass to the guest module's main export")
	listen := flag.Bool("listen", false, "serve the heap to remote peers over libp2p")
	flag.Parse()

	log := logging.Default("heapd")

	if *wasmPath != "" {
		if err := runGuest(log, uint32(*reserved), *wasmPath, []byte(*input)); err != nil {
			log.Fatal("guest run failed", logging.Err(err))
		}
		return
	}

	g := guard.New(uint32(*reserved), log)

	if *listen {
		serveUntilSignal(log, g)
		return
	}

	printStats(log, g)
}

func runGuest(log *logging.Logger, reserved uint32, wasmPath string, input []byte) error {
	wasmBytes, err := os.ReadFile(wasmPath)
	if err != nil {
		return fmt.Errorf("read wasm module: %w", err)
	}

	rt := guest.New(reserved, log)
	result, err := rt.Call(wasmBytes, input)
	if err != nil {
		return fmt.Errorf("execute guest module: %w", err)
	}

	fmt.Printf("guest returned %d bytes: %q\n", len(result), result)
	return nil
}

func serveUntilSignal(log *logging.Logger, g *guard.Heap) {
	host, err := hostnet.Serve(g, log)
	if err != nil {
		log.Fatal("failed to start hostnet", logging.Err(err))
	}
	defer host.Close()

	log.Info("heapd listening", logging.String("peer_id", host.ID().String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()

	printStats(log, g)
}

func printStats(log *logging.Logger, g *guard.Heap) {
	stats := g.Stats()
	log.Info("heap stats",
		logging.Uint32("total_size", stats.TotalSize),
		logging.Int("levels", int(stats.Levels)))
	for owner, count := range stats.LiveByOwner {
		log.Info("live allocations", logging.String("owner", owner.String()), logging.Int("count", count))
	}
}
