package reeltime

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// Wav encodes a stereo buffer as a .wav file. If pcm16 is true the samples
// are converted to 16-bit signed PCM; otherwise they are stored as IEEE
// float32.
func Wav(buffer AudioBuffer, sampleRate int, pcm16 bool) ([]byte, error) {
	buf := new(bytes.Buffer)
	wavHeader(len(buffer)*2, sampleRate, pcm16, buf)
	err := rawToBuffer(buffer, pcm16, buf)
	if err != nil {
		return nil, fmt.Errorf("Wav failed: %w", err)
	}
	return buf.Bytes(), nil
}

// Raw encodes a stereo buffer as headerless sample data, either 16-bit
// signed PCM or IEEE float32, both little-endian.
func Raw(buffer AudioBuffer, pcm16 bool) ([]byte, error) {
	buf := new(bytes.Buffer)
	err := rawToBuffer(buffer, pcm16, buf)
	if err != nil {
		return nil, fmt.Errorf("Raw failed: %w", err)
	}
	return buf.Bytes(), nil
}

// WavFromRaw converts raw little-endian stereo float32 sample bytes, as
// captured from an audio input device, into a 16-bit PCM .wav blob. This is
// how an audio take is finalized: the blob round trips through the ingest
// decoder like any imported file. A trailing partial frame is dropped.
func WavFromRaw(raw []byte, sampleRate int) []byte {
	frames := len(raw) / 8
	buf := make(AudioBuffer, frames)
	for i := 0; i < frames; i++ {
		buf[i][0] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*8:]))
		buf[i][1] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*8+4:]))
	}
	blob, _ := Wav(buf, sampleRate, true) // cannot fail on an in-memory buffer
	return blob
}

func rawToBuffer(data AudioBuffer, pcm16 bool, buf *bytes.Buffer) error {
	var err error
	if pcm16 {
		int16data := make([]int16, len(data)*2)
		for i, v := range data {
			int16data[i*2] = int16(clamp(int(v[0]*math.MaxInt16), math.MinInt16, math.MaxInt16))
			int16data[i*2+1] = int16(clamp(int(v[1]*math.MaxInt16), math.MinInt16, math.MaxInt16))
		}
		err = binary.Write(buf, binary.LittleEndian, int16data)
	} else {
		err = binary.Write(buf, binary.LittleEndian, data)
	}
	if err != nil {
		return fmt.Errorf("could not binary write data to binary buffer: %w", err)
	}
	return nil
}

// wavHeader writes a wave header for either float32 or int16 .wav data.
// bufferLength is the total number of samples over all channels, so for
// stereo it is frames * 2. pcm16 = true means the header is for int16 audio;
// pcm16 = false means the header is for float32 audio.
func wavHeader(bufferLength, sampleRate int, pcm16 bool, buf *bytes.Buffer) {
	// Refer to: http://www-mmsp.ece.mcgill.ca/Documents/AudioFormats/WAVE/WAVE.html
	numChannels := 2
	var bytesPerSample, chunkSize, fmtChunkSize, waveFormat int
	var factChunk bool
	if pcm16 {
		bytesPerSample = 2
		chunkSize = 36 + bytesPerSample*bufferLength
		fmtChunkSize = 16
		waveFormat = 1 // PCM
		factChunk = false
	} else {
		bytesPerSample = 4
		chunkSize = 50 + bytesPerSample*bufferLength
		fmtChunkSize = 18
		waveFormat = 3 // IEEE float
		factChunk = true
	}
	buf.Write([]byte("RIFF"))
	binary.Write(buf, binary.LittleEndian, uint32(chunkSize))
	buf.Write([]byte("WAVE"))
	buf.Write([]byte("fmt "))
	binary.Write(buf, binary.LittleEndian, uint32(fmtChunkSize))
	binary.Write(buf, binary.LittleEndian, uint16(waveFormat))
	binary.Write(buf, binary.LittleEndian, uint16(numChannels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*numChannels*bytesPerSample)) // avgBytesPerSec
	binary.Write(buf, binary.LittleEndian, uint16(numChannels*bytesPerSample))            // blockAlign
	binary.Write(buf, binary.LittleEndian, uint16(8*bytesPerSample))                      // bits per sample
	if fmtChunkSize > 16 {
		binary.Write(buf, binary.LittleEndian, uint16(0)) // size of extension
	}
	if factChunk {
		buf.Write([]byte("fact"))
		binary.Write(buf, binary.LittleEndian, uint32(4))            // fact chunk size
		binary.Write(buf, binary.LittleEndian, uint32(bufferLength)) // sample length
	}
	buf.Write([]byte("data"))
	binary.Write(buf, binary.LittleEndian, uint32(bytesPerSample*bufferLength))
}

func clamp(value, min, max int) int {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
