package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/reeltime-audio/reeltime"
	"github.com/reeltime-audio/reeltime/engine"
	"github.com/reeltime-audio/reeltime/engine/ingest"
	"github.com/reeltime-audio/reeltime/gomidi"
	"github.com/reeltime-audio/reeltime/version"
)

func main() {
	list := flag.Bool("l", false, "List the available MIDI inputs and exit.")
	input := flag.String("i", "", "Name prefix of the MIDI input to record from. By default, the first input found.")
	countIn := flag.Int("b", 0, "Number of count-in beats before recording starts.")
	bpm := flag.Float64("t", 120, "Tempo in beats per minute; drives the count-in and the beat positions of the recorded notes.")
	grid := flag.Float64("q", 0, "Snap recorded note starts to this grid, in beats (e.g. 0.25). 0 disables quantization.")
	duration := flag.Float64("d", 0, "Stop recording after this many seconds. 0 records until interrupted.")
	out := flag.String("o", "", "Write the recorded notes to this .yml file. By default, write to standard output.")
	help := flag.Bool("h", false, "Show help.")
	versionFlag := flag.Bool("v", false, "Print version.")
	flag.Usage = printUsage
	flag.Parse()
	if *versionFlag {
		fmt.Println(version.VersionOrHash)
		os.Exit(0)
	}
	if *help {
		flag.Usage()
		os.Exit(0)
	}
	midiContext := gomidi.NewContext()
	defer midiContext.Close()
	if *list {
		midiContext.InputDevices(func(d gomidi.Device) bool {
			fmt.Println(d)
			return true
		})
		os.Exit(0)
	}
	if err := record(midiContext, *input, *countIn, *bpm, *grid, *duration, *out); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func record(midiContext *gomidi.Context, input string, countIn int, bpm, grid, duration float64, out string) error {
	cfg := engine.DefaultConfig()
	broker := engine.NewBroker()
	events := engine.NewEvents(broker)
	go events.Run()
	coordinator := engine.NewRecordingCoordinator(engine.WallClock{}, broker, ingest.InlineDecoder{}, cfg)

	open := func() (engine.NoteInput, error) {
		return midiContext.TryToOpenBy(input, input == "")
	}
	ch, cancel := events.Subscribe()
	defer cancel()
	go func() {
		for ev := range ch {
			switch e := ev.(type) {
			case engine.CountdownTick:
				fmt.Fprintf(os.Stderr, "%d...\n", e.Value)
			case engine.RecordingStart:
				fmt.Fprintln(os.Stderr, "recording; press ctrl-c to stop")
			case engine.Alert:
				fmt.Fprintf(os.Stderr, "%v: %v\n", e.Name, e.Message)
			}
		}
	}()
	err := coordinator.StartNoteRecording("cli", open, engine.RecordingOptions{
		CountInBeats: countIn,
		Tempo:        bpm,
		QuantizeGrid: grid,
	})
	if err != nil {
		return fmt.Errorf("could not start recording: %w", err)
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	if duration > 0 {
		select {
		case <-interrupt:
		case <-time.After(time.Duration(duration * float64(time.Second))):
		}
	} else {
		<-interrupt
	}

	take := coordinator.StopRecording("cli")
	noteTake, ok := take.(*reeltime.NoteTake)
	if !ok || noteTake == nil {
		return fmt.Errorf("recording produced no take")
	}
	contents, err := yaml.Marshal(noteTake)
	if err != nil {
		return fmt.Errorf("could not marshal the take: %w", err)
	}
	if out == "" {
		os.Stdout.Write(contents)
		return nil
	}
	if err := os.WriteFile(out, contents, 0644); err != nil {
		return fmt.Errorf("could not write file %v: %w", out, err)
	}
	return nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Reeltime command line utility for recording notes from a MIDI input.\nUsage: %s [flags]\n", os.Args[0])
	flag.PrintDefaults()
}
