// Command eventline runs the chat server or an interactive chat client over
// the validated event channel.
package main

import (
	"fmt"
	"os"

	"github.com/coachpo/eventline/cmd/eventline/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
