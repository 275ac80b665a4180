package envelope

import (
	"errors"
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/atomic"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrAlreadyEmitted is returned when a second envelope emission is attempted
// within one run. The boundary between diagnostics and the final document
// must never be crossed twice.
var ErrAlreadyEmitted = errors.New("result envelope already emitted")

// Writer emits the single JSON document describing the run's outcome:
// either the handler's success payload or {"error": "<message>"}.
type Writer struct {
	out     io.Writer
	emitted atomic.Bool
}

func NewWriter(out io.Writer) *Writer {
	return &Writer{out: out}
}

// Success writes the payload pretty printed, newline terminated.
func (w *Writer) Success(payload map[string]any) error {
	if payload == nil {
		payload = map[string]any{}
	}
	return w.emit(payload)
}

// Error writes the error document for the given failure.
func (w *Writer) Error(failure error) error {
	return w.emit(map[string]any{"error": failure.Error()})
}

// Emitted reports whether the envelope for this run has been written.
func (w *Writer) Emitted() bool {
	return w.emitted.Load()
}

func (w *Writer) emit(doc map[string]any) error {
	if !w.emitted.CompareAndSwap(false, true) {
		return ErrAlreadyEmitted
	}
	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return fmt.Errorf("marshaling result envelope: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.out.Write(data); err != nil {
		return fmt.Errorf("writing result envelope: %w", err)
	}
	return nil
}
