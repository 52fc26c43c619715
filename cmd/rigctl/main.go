package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dougsko/rigd/pkg/client"
	"github.com/dougsko/rigd/pkg/discovery"
	"github.com/dougsko/rigd/pkg/trace"
)

var (
	address = flag.String("socket", "/tmp/rigd.sock", "Unix socket path or host:port of rigd")
	timeout = flag.Duration("timeout", 5*time.Second, "Per-command timeout")
	rawJSON = flag.Bool("json", false, "Print raw JSON responses")
)

func main() {
	flag.Usage = showHelp
	flag.Parse()

	args := flag.Args()
	if len(args) > 0 {
		switch args[0] {
		case "trace":
			os.Exit(dumpTrace(args[1:]))
		case "discover":
			os.Exit(discover(args[1:]))
		}
	}

	c := client.NewSocketClient(*address)
	c.SetTimeout(*timeout)

	if len(args) == 0 {
		if err := interactive(c); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ok, err := execute(os.Stdout, c, strings.Join(args, " "), *rawJSON)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if !ok {
		os.Exit(2)
	}
}

func dumpTrace(args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: rigctl trace <file>")
		return 1
	}
	f, err := os.Open(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer f.Close()

	r := trace.NewReader(f)
	for {
		rec, err := r.Next()
		if err != nil {
			if isEOF(err) {
				return 0
			}
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Println(trace.Format(rec))
	}
}

func discover(args []string) int {
	fs := flag.NewFlagSet("discover", flag.ExitOnError)
	wait := fs.Duration("wait", 3*time.Second, "How long to listen for answers")
	fs.Parse(args)

	services, err := discovery.Browse(context.Background(), *wait)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if len(services) == 0 {
		fmt.Println("no rigd instances found")
		return 0
	}
	for _, s := range services {
		line := fmt.Sprintf("%-20s %-22s %s (model %d, %s)", s.Instance, s.Address(), s.Rig, s.Model, s.Version)
		if s.Rotator != "" {
			line += " + " + s.Rotator
		}
		fmt.Println(line)
	}
	return 0
}

func showHelp() {
	fmt.Println("rigctl - rigd control tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Printf("  %s [options] <command> [args]   run one command\n", os.Args[0])
	fmt.Printf("  %s [options]                    interactive shell\n", os.Args[0])
	fmt.Printf("  %s trace <file>                 dump a wire trace\n", os.Args[0])
	fmt.Printf("  %s discover [-wait 3s]          find daemons on the network\n", os.Args[0])
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Printf("  %s F 14074000\n", os.Args[0])
	fmt.Printf("  %s M VFOB USB 2400\n", os.Args[0])
	fmt.Printf("  %s -socket shack.local:4532 set_pos 180 10\n", os.Args[0])
	fmt.Printf("  echo 'f' | nc -U /tmp/rigd.sock\n")
}
