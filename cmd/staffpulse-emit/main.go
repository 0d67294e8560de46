// Command staffpulse-emit publishes events to the brokers the gateway ingests from and
// issues client tokens for local testing.
package main

import (
	"fmt"
	"os"

	"github.com/pscheid92/staffpulse/internal/platform/logging"
)

func main() {
	logging.InitLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))

	if err := newRootCmd(defaultSinks).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
