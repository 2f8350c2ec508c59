package kfmt

import "io"

// PrefixWriter is an io.Writer that wraps another io.Writer and injects a
// prefix at the beginning of each line. Subsystems use it to tag their
// diagnostics, e.g. "[allocator] ".
type PrefixWriter struct {
	// A writer where all writes get sent to. A nil Sink sends output to
	// the early print buffer.
	Sink io.Writer

	// The prefix injected at the beginning of each line.
	Prefix []byte

	// bytesAfterPrefix is non-zero while the current line is partially
	// written; the next Write then continues it without a prefix.
	bytesAfterPrefix int
}

// Write writes len(p) bytes from p to the sink. The injected prefixes are not
// included in the returned byte count.
func (w *PrefixWriter) Write(p []byte) (int, error) {
	var written, lineStart int

	for index := 0; index < len(p); index++ {
		if p[index] != '\n' {
			continue
		}

		n, err := w.writeLine(p[lineStart : index+1])
		written += n
		if err != nil {
			return written, err
		}

		w.bytesAfterPrefix = 0
		lineStart = index + 1
	}

	if lineStart < len(p) {
		n, err := w.writeLine(p[lineStart:])
		written += n
		w.bytesAfterPrefix += n
		if err != nil {
			return written, err
		}
	}

	return written, nil
}

// writeLine emits the prefix when a new line starts and then the line bytes.
func (w *PrefixWriter) writeLine(line []byte) (int, error) {
	if w.bytesAfterPrefix == 0 {
		if _, err := w.sinkWrite(w.Prefix); err != nil {
			return 0, err
		}
	}

	return w.sinkWrite(line)
}

func (w *PrefixWriter) sinkWrite(p []byte) (int, error) {
	if w.Sink == nil {
		return earlyPrintBuffer.Write(p)
	}

	return w.Sink.Write(p)
}
