// Command test-hotkey is a manual test for the global hotkey listener.
// Run it, then press the configured combos to see which action fires.
// Press Ctrl+C to exit.
//
// Usage:
//
//	go run ./cmd/test-hotkey [--config path]
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chaz8081/gostt-replay/internal/config"
	"github.com/chaz8081/gostt-replay/internal/hotkey"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: built-in hotkeys)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		cfg = loaded
	}

	bindings := []hotkey.Binding{
		{Action: hotkey.ActionRecord, Keys: cfg.Hotkey.Record},
		{Action: hotkey.ActionPlay, Keys: cfg.Hotkey.Play},
		{Action: hotkey.ActionReset, Keys: cfg.Hotkey.Reset},
	}
	for _, b := range bindings {
		if len(b.Keys) > 0 {
			fmt.Printf("  %-6s %s\n", b.Action, strings.Join(b.Keys, "+"))
		}
	}
	fmt.Println("Press Ctrl+C to exit.")

	listener := hotkey.NewListener(bindings)

	// Handle Ctrl+C
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		fmt.Println("\nShutting down...")
		listener.Stop()
	}()

	// Read events
	go func() {
		for action := range listener.Events() {
			fmt.Printf(">>> %s\n", strings.ToUpper(action.String()))
		}
		fmt.Println("Event channel closed.")
	}()

	// Blocks until stopped
	listener.Start()
	fmt.Println("Done.")
}
