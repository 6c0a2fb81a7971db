// wardenctl drives a running warden server over its HTTP API.
//
// Usage:
//
//	wardenctl investigate <alert-id>
//	wardenctl pending [--limit=10]
//	wardenctl history <alert-id>
//	wardenctl result <alert-id>
//	wardenctl verify <alert-id> [--verified=false]
//	wardenctl outcomes
//	wardenctl stats
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
