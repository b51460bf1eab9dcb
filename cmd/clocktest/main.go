// Standalone clock accuracy test. Runs the MIDI clock generator for a few
// seconds and reports pulse interval jitter, optionally against a real port.
//
// Usage:
//
//	go run ./cmd/clocktest
//	go run ./cmd/clocktest -port "Volca" -bpm 140 -seconds 10
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"

	"go-gridbeat/midi"
	"go-gridbeat/midiclock"
)

func main() {
	port := flag.String("port", "", "MIDI output port (empty = measure only, no MIDI)")
	bpm := flag.Float64("bpm", 120, "clock tempo")
	seconds := flag.Int("seconds", 5, "how long to run")
	flag.Parse()

	send := func([]byte) error { return nil }
	if *port != "" {
		out := midi.NewOutput(*port)
		defer out.Close()
		defer gomidi.CloseDriver()
		send = func(data []byte) error { return out.SendRaw(*port, data) }
	}

	gen := midiclock.NewGenerator(send)
	if err := gen.Start(*bpm); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	interval := midiclock.PulseInterval(*bpm, midiclock.DefaultPPQN)
	fmt.Printf("running %d pulses/quarter at %.1f bpm (interval %v) for %ds\n",
		midiclock.DefaultPPQN, *bpm, interval, *seconds)

	var count int
	deadline := time.After(time.Duration(*seconds) * time.Second)
	pulses := gen.Pulses()

loop:
	for {
		select {
		case <-pulses:
			count++
		case <-deadline:
			break loop
		}
	}
	gen.Stop()

	avg, max := gen.JitterStats()
	fmt.Printf("pulses observed: %d\n", count)
	fmt.Printf("jitter (last window): avg %.3fms  max %.3fms\n",
		float64(avg)/1e6, float64(max)/1e6)
	expected := float64(*seconds) * *bpm / 60 * float64(midiclock.DefaultPPQN)
	fmt.Printf("expected ~%.0f pulses\n", expected)
}
