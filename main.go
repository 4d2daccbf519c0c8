// The main package for the monitord executable.
package main

import (
	"github.com/tuilink/realtime-monitor/cmd"
)

func main() {
	cmd.Execute()
}
