package transport

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/nlweb-go/gateway/internal/query"
)

// sseSender writes one `data: <json>\n\n` frame per message and flushes
// immediately. A write error is returned as-is; the pipeline treats a
// non-nil error from the sender as a lost connection and stops emitting.
func sseSender(w http.ResponseWriter, flusher http.Flusher) func(ctx context.Context, msg query.Message) error {
	return func(ctx context.Context, msg query.Message) error {
		data, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		if _, err := w.Write([]byte("data: ")); err != nil {
			return err
		}
		if _, err := w.Write(data); err != nil {
			return err
		}
		if _, err := w.Write([]byte("\n\n")); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}
}
