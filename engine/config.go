package engine

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config carries the tunable constants of one engine session. Zero values
// are replaced by the defaults on load, so a config file only needs to name
// the fields it changes.
type Config struct {
	// SampleRate of the output device and of finalized audio takes.
	SampleRate int `yaml:"sampleRate"`
	// ScanInterval is how often the note scheduler scans for upcoming
	// notes.
	ScanInterval time.Duration `yaml:"scanInterval"`
	// Lookahead is how far ahead of the current position the note scheduler
	// commits notes to timers. Must be larger than ScanInterval or notes
	// fall between scans.
	Lookahead time.Duration `yaml:"lookahead"`
	// MinNoteDuration is the floor applied to recorded note lengths, so a
	// hardware glitch double-firing note-off does not produce zero length
	// notes.
	MinNoteDuration time.Duration `yaml:"minNoteDuration"`
	// SamplesPerPixel is the window size of one waveform peak pair.
	SamplesPerPixel int `yaml:"samplesPerPixel"`
	// CountInBeats is the default count-in when a recording does not say.
	CountInBeats int `yaml:"countInBeats"`
	// IngestTimeout is the deadline for one off-thread decode request.
	IngestTimeout time.Duration `yaml:"ingestTimeout"`
}

func DefaultConfig() Config {
	return Config{
		SampleRate:      44100,
		ScanInterval:    25 * time.Millisecond,
		Lookahead:       100 * time.Millisecond,
		MinNoteDuration: 50 * time.Millisecond,
		SamplesPerPixel: 256,
		CountInBeats:    0,
		IngestTimeout:   30 * time.Second,
	}
}

// UnmarshalYAML accepts durations in the "25ms"/"1.5s" notation, which the
// yaml package cannot decode into time.Duration on its own.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		SampleRate      int    `yaml:"sampleRate"`
		ScanInterval    string `yaml:"scanInterval"`
		Lookahead       string `yaml:"lookahead"`
		MinNoteDuration string `yaml:"minNoteDuration"`
		SamplesPerPixel int    `yaml:"samplesPerPixel"`
		CountInBeats    int    `yaml:"countInBeats"`
		IngestTimeout   string `yaml:"ingestTimeout"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	c.SampleRate = raw.SampleRate
	c.SamplesPerPixel = raw.SamplesPerPixel
	c.CountInBeats = raw.CountInBeats
	for _, d := range []struct {
		src string
		dst *time.Duration
	}{
		{raw.ScanInterval, &c.ScanInterval},
		{raw.Lookahead, &c.Lookahead},
		{raw.MinNoteDuration, &c.MinNoteDuration},
		{raw.IngestTimeout, &c.IngestTimeout},
	} {
		if d.src == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.src)
		if err != nil {
			return fmt.Errorf("parsing duration %q: %w", d.src, err)
		}
		*d.dst = parsed
	}
	return nil
}

// LoadConfig reads a YAML config file, filling unset fields with defaults. A
// missing file is not an error; you just get the defaults.
func LoadConfig(path string) (Config, error) {
	c := DefaultConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return c, fmt.Errorf("reading config: %w", err)
	}
	var file Config
	if err := yaml.Unmarshal(b, &file); err != nil {
		return c, fmt.Errorf("parsing config %v: %w", path, err)
	}
	c.merge(file)
	return c, nil
}

func (c *Config) merge(o Config) {
	if o.SampleRate > 0 {
		c.SampleRate = o.SampleRate
	}
	if o.ScanInterval > 0 {
		c.ScanInterval = o.ScanInterval
	}
	if o.Lookahead > 0 {
		c.Lookahead = o.Lookahead
	}
	if o.MinNoteDuration > 0 {
		c.MinNoteDuration = o.MinNoteDuration
	}
	if o.SamplesPerPixel > 0 {
		c.SamplesPerPixel = o.SamplesPerPixel
	}
	if o.CountInBeats > 0 {
		c.CountInBeats = o.CountInBeats
	}
	if o.IngestTimeout > 0 {
		c.IngestTimeout = o.IngestTimeout
	}
}
