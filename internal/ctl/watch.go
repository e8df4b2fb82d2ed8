package ctl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"telecom-keeper/internal/stream"

	"github.com/gorilla/websocket"
)

// WatchOptions controls the watch command behavior.
type WatchOptions struct {
	Topics []string // topics to show (empty = all)
	JSON   bool     // output raw JSON per message
}

// Watch streams keeperd state changes to w until ctx is cancelled or the
// connection drops.
func Watch(ctx context.Context, c *Client, w io.Writer, opts WatchOptions) error {
	conn, err := c.Dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	filter := make(map[string]bool, len(opts.Topics))
	for _, t := range opts.Topics {
		filter[t] = true
	}

	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		var m stream.Message
		if err := json.Unmarshal(raw, &m); err != nil {
			continue
		}
		if len(filter) > 0 && !filter[m.Topic] {
			continue
		}
		if opts.JSON {
			fmt.Fprintln(w, string(raw))
			continue
		}
		renderMessage(w, m)
	}
}

func renderMessage(w io.Writer, m stream.Message) {
	ts := colorize(w, dim, time.Now().Format(time.TimeOnly))
	switch m.Topic {
	case stream.TopicProcessing:
		var st ProcessingState
		if json.Unmarshal(m.Data, &st) == nil {
			fmt.Fprintf(w, "%s ", ts)
			renderProcessing(w, st)
		}
	case stream.TopicRegistration:
		var r Registration
		if json.Unmarshal(m.Data, &r) == nil {
			fmt.Fprintf(w, "%s ", ts)
			renderRegistration(w, r)
		}
	case stream.TopicCallHistory:
		var evs []CallEvent
		if json.Unmarshal(m.Data, &evs) == nil && len(evs) > 0 {
			last := evs[len(evs)-1]
			fmt.Fprintf(w, "%s   %s %s %s %s\n", ts, colorize(w, bold, "call:        "),
				shortID(last.CallID), last.Kind, trimScheme(last.RemoteParty))
		}
	default:
		fmt.Fprintf(w, "%s   %s %s\n", ts, m.Topic, string(m.Data))
	}
}
