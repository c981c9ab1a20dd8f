package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/peterh/liner"
	"go.uber.org/zap"

	"chordring/internal/node"
)

const commandTimeout = 10 * time.Second

// runREPL implements the operator console's fixed command set from
// spec.md §6, using peterh/liner for line editing/history in place of a bare
// scanner. It returns once the operator quits or the line reader errors.
func runREPL(ctx context.Context, svc *node.Service, logger *zap.Logger) {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	fmt.Println("chordnode console. Commands: info, fingertable, files, getfile <name>, putfile <name>, quit")

	for {
		input, err := line.Prompt(fmt.Sprintf("chordnode[%s]> ", svc.Ring().Self().Addr()))
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) {
				continue
			}
			return
		}
		line.AppendHistory(input)

		fields := strings.Fields(strings.TrimSpace(input))
		if len(fields) == 0 {
			continue
		}

		cmdCtx, cancel := context.WithTimeout(ctx, commandTimeout)
		switch fields[0] {
		case "info":
			fmt.Print(svc.Ring().String())
			fmt.Printf("  files:       %d\n", len(svc.Store().Files()))

		case "fingertable":
			for i, f := range svc.Ring().FingerTable() {
				fmt.Printf("  [%d] target=%d -> %s\n", i, f.TargetKey, f.Successor.Addr())
			}

		case "files":
			space := svc.Ring().Space()
			for _, name := range svc.Store().Files() {
				fmt.Printf("  %s (id=%d)\n", name, space.HashString(name))
			}

		case "getfile":
			if len(fields) < 2 {
				fmt.Println("usage: getfile <name>")
				break
			}
			if err := svc.Store().GetFile(cmdCtx, fields[1]); err != nil {
				fmt.Printf("getfile failed: %v\n", err)
			} else {
				fmt.Printf("retrieved %s\n", fields[1])
			}

		case "putfile":
			if len(fields) < 2 {
				fmt.Println("usage: putfile <name>")
				break
			}
			if err := svc.Store().PutFile(cmdCtx, fields[1]); err != nil {
				fmt.Printf("putfile failed: %v\n", err)
			} else {
				fmt.Printf("placed %s\n", fields[1])
			}

		case "quit", "q", "exit":
			// The graceful-leave round trip is run once by the caller after
			// this REPL returns, so quitting here only ends the console loop.
			cancel()
			return

		default:
			fmt.Printf("unknown command: %s\n", fields[0])
		}
		cancel()
	}
}
