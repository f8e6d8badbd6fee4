package stt

import (
	"bufio"
	"fmt"
	"io"
	"os"
)

// FormatSegment renders a segment as "[0.00s -> 3.60s] text".
func FormatSegment(s Segment) string {
	return fmt.Sprintf("[%.2fs -> %.2fs] %s", s.Start, s.End, s.Text)
}

// WriteTranscript writes one formatted line per segment.
func WriteTranscript(w io.Writer, segments []Segment) error {
	bw := bufio.NewWriter(w)
	for _, s := range segments {
		if _, err := bw.WriteString(FormatSegment(s) + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteTranscriptFile writes the transcript to path, replacing any existing file.
func WriteTranscriptFile(path string, segments []Segment) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteTranscript(f, segments); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
