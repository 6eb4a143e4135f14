// Command lsmkv-cli dials a running lsmkv-server and offers an interactive
// "get <key>" / "set <key> <value>" prompt over stdin/stdout. Grounded on
// the teacher's main.go: a thin binary entry point deferring all real logic
// to packages.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bureau/lsmkv/client"
	"github.com/bureau/lsmkv/internal/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "lsmkv-cli: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", config.DefaultListenAddr, "server address to dial")
	timeout := flag.Duration("dial-timeout", 5*time.Second, "connection timeout")
	flag.Parse()

	c, err := client.Dial(*addr, *timeout)
	if err != nil {
		return fmt.Errorf("dial %s: %w", *addr, err)
	}
	defer c.Close()

	fmt.Fprintf(os.Stderr, "connected to %s. commands: get <key> | set <key> <value> | quit\n", *addr)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(os.Stderr, "> ")
		if !scanner.Scan() {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		fields := strings.SplitN(line, " ", 3)
		switch strings.ToLower(fields[0]) {
		case "quit", "exit":
			return nil

		case "get":
			if len(fields) != 2 {
				fmt.Fprintln(os.Stderr, "usage: get <key>")
				continue
			}
			value, found, err := c.Get([]byte(fields[1]))
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				continue
			}
			if !found {
				fmt.Println("(not found)")
				continue
			}
			fmt.Println(string(value))

		case "set":
			if len(fields) != 3 {
				fmt.Fprintln(os.Stderr, "usage: set <key> <value>")
				continue
			}
			if err := c.Set([]byte(fields[1]), []byte(fields[2])); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				continue
			}
			fmt.Println("OK")

		default:
			fmt.Fprintf(os.Stderr, "unknown command %q\n", fields[0])
		}
	}
}
