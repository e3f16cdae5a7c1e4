package main

import (
	"context"
	"errors"
	"log"
	"os"

	"github.com/progrium/h1mux/cmd/h1mux/cli"
)

func main() {
	root := &cli.Command{
		Usage: "h1mux",
		Long:  `h1mux serves HTTP/1.1 over tcp, unix sockets, tls, quic streams, websockets or stdio`,
	}

	root.AddCommand(serveCmd)
	root.AddCommand(checkCmd)

	if err := cli.Execute(context.Background(), root, os.Args[1:]); err != nil {
		if errors.Is(err, cli.ErrUsage) {
			log.SetFlags(0)
		}
		fatal(err)
	}
}

func fatal(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
