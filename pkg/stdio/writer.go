package stdio

import (
	"bytes"
	"encoding/json"
	"io"
	"sync"

	"github.com/toolfleet/mcp-stdio-gateway/pkg/jsonrpc"
)

// ResponseWriter serializes response envelopes as single compact lines.
// Requests complete in arbitrary order, so writes are mutex-guarded to keep
// concurrently finishing responses from interleaving within one line.
type ResponseWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewResponseWriter(w io.Writer) *ResponseWriter {
	return &ResponseWriter{w: w}
}

// WriteResponse emits resp as one compact JSON line.
func (w *ResponseWriter) WriteResponse(resp *jsonrpc.Response) error {
	resp.JSONRPC = jsonrpc.Version
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return w.writeLine(data)
}

// WriteRaw relays an already-encoded envelope verbatim, compacting it first so
// a pretty-printed backend body cannot break the one-line framing.
func (w *ResponseWriter) WriteRaw(envelope []byte) error {
	var buf bytes.Buffer
	if err := json.Compact(&buf, envelope); err != nil {
		return err
	}
	return w.writeLine(buf.Bytes())
}

func (w *ResponseWriter) writeLine(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.w.Write(data); err != nil {
		return err
	}
	_, err := w.w.Write([]byte{'\n'})
	return err
}
