package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/chzyer/readline"

	"github.com/dougsko/rigd/pkg/client"
	"github.com/dougsko/rigd/pkg/protocol"
)

func isEOF(err error) bool {
	return errors.Is(err, io.EOF)
}

// execute sends one line and prints the reply. ok is false when the
// daemon answered with an error.
func execute(w io.Writer, c *client.SocketClient, line string, raw bool) (bool, error) {
	resp, err := c.SendCommand(line)
	if err != nil {
		return false, err
	}
	if raw {
		fmt.Fprintln(w, resp.String())
		return resp.Success, nil
	}
	printResponse(w, resp)
	return resp.Success, nil
}

// printResponse renders a reply as "key: value" lines.
func printResponse(w io.Writer, resp *protocol.Response) {
	if !resp.Success {
		fmt.Fprintf(w, "error (%s): %s\n", resp.Code, resp.Error)
		return
	}
	if len(resp.Data) == 0 {
		fmt.Fprintln(w, "ok")
		return
	}
	keys := make([]string, 0, len(resp.Data))
	for k := range resp.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch v := resp.Data[k].(type) {
		case []interface{}:
			fmt.Fprintf(w, "%s:\n", k)
			for _, item := range v {
				fmt.Fprintf(w, "  %v\n", formatValue(item))
			}
		default:
			fmt.Fprintf(w, "%s: %s\n", k, formatValue(v))
		}
	}
}

func formatValue(v interface{}) string {
	switch x := v.(type) {
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%g", x)
	case map[string]interface{}:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+"="+formatValue(x[k]))
		}
		return "{" + strings.Join(parts, " ") + "}"
	default:
		return fmt.Sprint(x)
	}
}

func completer() *readline.PrefixCompleter {
	var items []readline.PrefixCompleterInterface
	for _, s := range protocol.Commands() {
		items = append(items, readline.PcItem(s.Name))
	}
	items = append(items, readline.PcItem("exit"))
	return readline.NewPrefixCompleter(items...)
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".rigctl_history")
}

// interactive runs a shell sending each line to the daemon.
func interactive(c *client.SocketClient) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "rig> ",
		HistoryFile:     historyFile(),
		AutoComplete:    completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	if err := c.Ping(); err != nil {
		fmt.Fprintf(rl.Stderr(), "warning: %v\n", err)
	}

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			return nil
		}

		input := strings.TrimSpace(line)
		switch input {
		case "":
			continue
		case "exit", "q", "quit":
			return nil
		}

		if _, err := execute(rl.Stdout(), c, input, *rawJSON); err != nil {
			fmt.Fprintf(rl.Stderr(), "error: %v\n", err)
		}
	}
}
