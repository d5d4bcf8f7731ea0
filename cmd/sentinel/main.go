// Command sentinel runs the alerting service: health probes, request
// aggregation and alert fan-out behind a small REST API.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
