// Command wickedcli is a small interactive shell for wickedd's control
// API: list managed interfaces, inspect a lease, and trigger renew or
// release on demand.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

var serverAddr = flag.String("server", "http://localhost:8546", "wickedd control API address")

func main() {
	flag.Parse()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	client := &http.Client{Timeout: 10 * time.Second}
	cli := NewCLI(client, *serverAddr)

	go func() {
		<-sigCh
		fmt.Println("\nshutting down...")
		cli.Stop()
		os.Exit(0)
	}()

	if err := cli.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
