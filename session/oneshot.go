package session

import (
	"context"

	"github.com/arach/claude-agent-go/internal/transport"
	"github.com/arach/claude-agent-go/protocol"
)

// OneShot spawns the CLI in one-shot mode (--print -- <prompt>, stdin
// closed immediately) and yields parsed messages directly from the
// transport stream until EOF. It does not instantiate a control-protocol
// handler at all: use it only when no permission callback, no hooks, and
// no in-process MCP bridge are configured.
func OneShot(ctx context.Context, opts Options, prompt string) (<-chan protocol.Message, <-chan error, error) {
	tOpts, err := opts.transportOptions(prompt, false)
	if err != nil {
		return nil, nil, err
	}
	tr, err := transport.Start(ctx, tOpts)
	if err != nil {
		return nil, nil, err
	}

	out := make(chan protocol.Message, 16)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer tr.Close()
		for raw := range tr.Records() {
			if isControl, _ := protocol.IsControlRecord(raw); isControl {
				continue // no control-plane in one-shot mode; ignore stray records
			}
			msg, perr := protocol.ParseMessage(raw)
			if perr != nil {
				continue
			}
			out <- msg
		}
		if terr := tr.Err(); terr != nil {
			errc <- terr
		}
		close(errc)
	}()

	return out, errc, nil
}
