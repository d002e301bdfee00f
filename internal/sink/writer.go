package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
)

// Format selects the Writer line format.
type Format string

const (
	// FormatText writes "probe indexed" per line.
	FormatText Format = "text"
	// FormatJSON writes one Pair object per line.
	FormatJSON Format = "json"
)

// Writer streams pairs to w through a buffer. If w is an io.Closer it is
// closed by Close.
type Writer struct {
	w       io.Writer
	buf     *bufio.Writer
	enc     *json.Encoder
	format  Format
	scratch []byte
}

func NewWriter(w io.Writer, format Format) *Writer {
	buf := bufio.NewWriterSize(w, 256*1024)
	return &Writer{
		w:      w,
		buf:    buf,
		enc:    json.NewEncoder(buf),
		format: format,
	}
}

func (w *Writer) Emit(_ context.Context, p Pair) error {
	if w.format == FormatJSON {
		if err := w.enc.Encode(p); err != nil {
			return fmt.Errorf("encoding pair: %w", err)
		}
		return nil
	}
	b := w.scratch[:0]
	b = strconv.AppendInt(b, p.Probe, 10)
	b = append(b, ' ')
	b = strconv.AppendInt(b, p.Indexed, 10)
	b = append(b, '\n')
	w.scratch = b
	if _, err := w.buf.Write(b); err != nil {
		return fmt.Errorf("writing pair: %w", err)
	}
	return nil
}

func (w *Writer) Close(context.Context) error {
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("flushing output: %w", err)
	}
	if c, ok := w.w.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return fmt.Errorf("closing output: %w", err)
		}
	}
	return nil
}
