// shardctl sends one command to a shardd over its RESP wire transport and
// prints the raw JSON reply, the CLI analogue of the teacher's "-cli" mode
// in cmd/server/main.go.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/docshard/docshard/internal/wire"
)

var addr = flag.String("addr", "127.0.0.1:7379", "shardd RESP address")

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: shardctl -addr host:port <command> [json-arg]")
		os.Exit(1)
	}

	name := args[0]
	var arg any
	if len(args) > 1 {
		arg = json.RawMessage(args[1])
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := wire.NewClient(*addr)
	var reply json.RawMessage
	if err := client.Call(ctx, name, arg, &reply); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
		os.Exit(1)
	}

	fmt.Println(string(reply))
}
