// Command claude-agent-example drives the claude CLI for a single prompt
// and prints the assistant's reply and result summary.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/arach/claude-agent-go/protocol"
	"github.com/arach/claude-agent-go/session"
)

func main() {
	prompt := flag.String("prompt", "What is 2+2?", "prompt to send")
	model := flag.String("model", "", "model override")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall timeout")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	opts := session.Options{
		Model: *model,
	}

	out, errc, err := session.OneShot(ctx, opts, *prompt)
	if err != nil {
		log.Fatalf("claude-agent-example: %v", err)
	}

	for msg := range out {
		switch m := msg.(type) {
		case protocol.AssistantMessage:
			for _, block := range m.ContentBlocks {
				if block.Type == protocol.BlockTypeText {
					fmt.Println(block.Text)
				}
			}
		case protocol.ResultMessage:
			cost := 0.0
			if m.TotalCostUSD != nil {
				cost = *m.TotalCostUSD
			}
			fmt.Fprintf(os.Stderr, "turns=%d cost_usd=%v is_error=%v\n", m.NumTurns, cost, m.IsError)
		}
	}

	if err := <-errc; err != nil {
		log.Fatalf("claude-agent-example: %v", err)
	}
}
