package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/reeltime-audio/reeltime"
	"github.com/reeltime-audio/reeltime/engine"
	"github.com/reeltime-audio/reeltime/engine/ingest"
	"github.com/reeltime-audio/reeltime/gomidi"
	"github.com/reeltime-audio/reeltime/oto"
	"github.com/reeltime-audio/reeltime/version"
)

func main() {
	stdout := flag.Bool("s", false, "Do not write files; write to standard output instead.")
	help := flag.Bool("h", false, "Show help.")
	directory := flag.String("o", "", "Directory where to output all files. The directory and its parents are created if needed. By default, everything is placed in the same directory where the project file is.")
	play := flag.Bool("p", false, "Play the input projects (default behaviour when no other output is defined).")
	wavOut := flag.Bool("w", false, "Render the project mix as a .wav file.")
	rawOut := flag.Bool("r", false, "Render the project mix as a .raw file (stereo float32).")
	pcm := flag.Bool("c", false, "Convert audio to 16-bit signed PCM when outputting.")
	midiOut := flag.String("m", "", "Name prefix of the MIDI output to play note tracks through. By default, the first output found.")
	versionFlag := flag.Bool("v", false, "Print version.")
	flag.Usage = printUsage
	flag.Parse()
	if *versionFlag {
		fmt.Println(version.VersionOrHash)
		os.Exit(0)
	}
	if flag.NArg() == 0 || *help {
		flag.Usage()
		os.Exit(0)
	}
	if !*rawOut && !*wavOut {
		*play = true // if the user gives nothing to output, then the default behaviour is just to play the project
	}
	retval := 0
	for _, param := range flag.Args() {
		if err := process(param, *play, *wavOut, *rawOut, *pcm, *stdout, *directory, *midiOut); err != nil {
			fmt.Fprintf(os.Stderr, "could not process file %v: %v\n", param, err)
			retval = 1
		}
	}
	os.Exit(retval)
}

func process(filename string, play, wavOut, rawOut, pcm, stdout bool, directory, midiOut string) error {
	inputBytes, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("could not read file %v: %w", filename, err)
	}
	var project reeltime.Project
	if err := yaml.Unmarshal(inputBytes, &project); err != nil {
		return fmt.Errorf("the project could not be parsed as .yml: %w", err)
	}
	if project.BPM == 0 {
		project.BPM = 120
	}
	cfg := engine.DefaultConfig()
	if project.SampleRate != 0 {
		cfg.SampleRate = project.SampleRate
	}
	broker := engine.NewBroker()
	go logAlerts(broker)
	pipeline := ingest.NewPipeline(ingest.InlineDecoder{}, nil, cfg)

	// one SourceRef per file, shared by every clip referencing it
	refs := map[string]*reeltime.SourceRef{}
	loadRef := func(dir, file string) (*reeltime.SourceRef, error) {
		path := file
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, file)
		}
		if ref, ok := refs[path]; ok {
			return ref, nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("could not read audio file %v: %w", path, err)
		}
		ref := reeltime.NewSourceRef(file, data)
		refs[path] = ref
		return ref, nil
	}

	projectDir := filepath.Dir(filename)
	var end float64
	mixer := engine.NewMixer()
	var schedulers []*engine.ClipScheduler
	for i := range project.Tracks {
		track := &project.Tracks[i]
		if len(track.Clips) == 0 {
			continue
		}
		clips := make([]*reeltime.Clip, 0, len(track.Clips))
		for _, fc := range track.Clips {
			ref, err := loadRef(projectDir, fc.File)
			if err != nil {
				return err
			}
			dur := fc.Duration
			if dur == 0 { // unspecified, play the rest of the material
				decoded, err := pipeline.Decode(ref)
				if err != nil {
					return fmt.Errorf("could not decode %v: %w", fc.File, err)
				}
				dur = decoded.Duration() - fc.Offset
			}
			clip := reeltime.NewClip(ref, fc.Start, fc.Offset, dur)
			clips = append(clips, clip)
			if clip.End() > end {
				end = clip.End()
			}
		}
		sched := engine.NewClipScheduler(engine.WallClock{}, broker, pipeline, cfg)
		sched.SetClips(clips, track.TrackVolume(), track.Pan)
		schedulers = append(schedulers, sched)
		mixer.AddSource(sched)
	}
	for _, track := range project.Tracks {
		for _, n := range track.Notes {
			if e := reeltime.BeatsToSeconds(n.Start+n.Duration, project.BPM); e > end {
				end = e
			}
		}
	}

	for _, sched := range schedulers {
		sched.Play(0)
	}
	if wavOut || rawOut {
		buffer := renderMix(mixer, cfg.SampleRate, end)
		if rawOut {
			raw, err := reeltime.Raw(buffer, pcm)
			if err != nil {
				return fmt.Errorf("could not generate .raw file: %w", err)
			}
			if err := output(filename, ".raw", raw, stdout, directory); err != nil {
				return fmt.Errorf("error outputting .raw file: %w", err)
			}
		}
		if wavOut {
			wav, err := reeltime.Wav(buffer, cfg.SampleRate, pcm)
			if err != nil {
				return fmt.Errorf("could not generate .wav file: %w", err)
			}
			if err := output(filename, ".wav", wav, stdout, directory); err != nil {
				return fmt.Errorf("error outputting .wav file: %w", err)
			}
		}
		for _, sched := range schedulers {
			sched.Stop()
		}
	}
	if !play {
		return nil
	}
	audioContext, err := oto.NewContext(cfg.SampleRate)
	if err != nil {
		return fmt.Errorf("could not acquire oto AudioContext: %w", err)
	}
	defer audioContext.Close()
	var noteSchedulers []*engine.NoteScheduler
	if hasNotes(project) {
		midiContext := gomidi.NewContext()
		defer midiContext.Close()
		out, err := midiContext.OpenOutputBy(midiOut, midiOut == "", 0)
		if err != nil {
			fmt.Fprintf(os.Stderr, "note tracks will be silent: %v\n", err)
		} else {
			defer out.Close()
			for _, track := range project.Tracks {
				if len(track.Notes) == 0 {
					continue
				}
				sched := engine.NewNoteScheduler(engine.WallClock{}, broker, out, cfg)
				sched.SetTempo(project.BPM)
				sched.SetNotes(track.Notes)
				noteSchedulers = append(noteSchedulers, sched)
			}
		}
	}
	for _, sched := range schedulers {
		sched.Play(0)
	}
	for _, sched := range noteSchedulers {
		sched.Start(0)
	}
	closer, err := audioContext.Play(mixer)
	if err != nil {
		return fmt.Errorf("could not start playback: %w", err)
	}
	time.Sleep(time.Duration(end*float64(time.Second)) + 200*time.Millisecond)
	for _, sched := range noteSchedulers {
		sched.Stop()
	}
	for _, sched := range schedulers {
		sched.Stop()
	}
	return closer.Close()
}

// renderMix pulls the mixer offline for the given number of seconds.
func renderMix(mixer *engine.Mixer, sampleRate int, seconds float64) reeltime.AudioBuffer {
	frames := int(seconds * float64(sampleRate))
	buffer := make(reeltime.AudioBuffer, frames)
	const chunk = 4096
	for pos := 0; pos < frames; pos += chunk {
		n := frames - pos
		if n > chunk {
			n = chunk
		}
		mixer.ReadAudio(buffer[pos : pos+n])
	}
	return buffer
}

func hasNotes(project reeltime.Project) bool {
	for _, track := range project.Tracks {
		if len(track.Notes) > 0 {
			return true
		}
	}
	return false
}

func logAlerts(broker *engine.Broker) {
	events := engine.NewEvents(broker)
	ch, cancel := events.Subscribe()
	defer cancel()
	go events.Run()
	for ev := range ch {
		if alert, ok := ev.(engine.Alert); ok {
			fmt.Fprintf(os.Stderr, "%v: %v\n", alert.Name, alert.Message)
		}
	}
}

func output(filename, extension string, contents []byte, stdout bool, directory string) error {
	if stdout {
		os.Stdout.Write(contents)
		return nil
	}
	_, name := filepath.Split(filename)
	dir := directory
	if dir == "" {
		dir = filepath.Dir(filename)
	}
	name = strings.TrimSuffix(name, filepath.Ext(name)) + extension
	f := filepath.Join(dir, name)
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return fmt.Errorf("could not create output directory %v: %w", dir, err)
	}
	if err := os.WriteFile(f, contents, 0644); err != nil {
		return fmt.Errorf("could not write file %v: %w", f, err)
	}
	return nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Reeltime command line utility for playing .yml project files.\nUsage: %s [flags] [path ...]\n", os.Args[0])
	flag.PrintDefaults()
}
