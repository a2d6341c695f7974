// Command reaction-migrate repairs reaction emoji that were stored after
// their UTF-8 bytes had been decoded as Windows-1252.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
