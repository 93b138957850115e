package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/agri-rag/server/internal/agent/graph"
	"github.com/agri-rag/server/internal/agent/model"
)

const chatHelp = `Ask about Malaysian crop statistics.
  /reset  forget this thread
  /exit   quit
`

// chat runs a line-oriented conversation on one thread until EOF or /exit.
func chat(ctx context.Context, a *app, threadID string, in io.Reader, out io.Writer) error {
	fmt.Fprintf(out, "thread %s\n%s", threadID, chatHelp)

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/reset":
			if err := a.conversations.Reset(ctx, threadID); err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
				continue
			}
			fmt.Fprintln(out, "thread cleared")
			continue
		case "/help":
			fmt.Fprint(out, chatHelp)
			continue
		}

		fmt.Fprintln(out, graph.Reply(ctx, a.runner, model.TurnInput{ThreadID: threadID, Message: line}))
		if ctx.Err() != nil {
			return nil
		}
	}
}
