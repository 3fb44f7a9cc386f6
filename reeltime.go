// Package reeltime contains the domain types of the reeltime multitrack
// engine: clips placed on a timeline, note events, finished recording takes,
// and the capability interfaces (audio output, audio decoding, instruments)
// that the runtime components in package engine are built against. The types
// here are pure data and math; everything with goroutines, clocks or devices
// lives in the subpackages.
package reeltime
