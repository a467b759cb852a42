// Command proxvps drives the Proxmox provisioning workflows from the shell,
// acting as a minimal host platform with its state in a local sqlite file.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
