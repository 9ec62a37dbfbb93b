// Command gofastboot talks to Android devices in fastboot mode over TCP or
// UDP: reading variables, flashing images and product directories, and
// managing slots and logical partitions.
package main

import (
	"os"
)

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
