// Command dgsh-echo is a minimal source-only pipeline participant: it
// negotiates a single implicit output channel and writes its
// arguments to it, space-separated, exactly like the plain `echo`
// command. Grounded on original_source/unix-dgsh-tools/simple_echo.c.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/dgsh-project/dgsh/pkg/negotiate"
)

func main() {
	result, err := negotiate.Negotiate(context.Background(), negotiate.Options{
		ToolName: "dgsh-echo",
		Input:    negotiate.ChannelSpec{Count: 0},
		Output:   negotiate.ChannelSpec{Implicit: true},
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "dgsh-echo:", err)
		os.Exit(1)
	}
	if result.Outcome == negotiate.OutcomeDrawExit {
		os.Exit(69)
	}

	// result.OutputFds[0] is always duped over fd 1 on success, so
	// os.Stdout is already the negotiated channel.
	fmt.Fprintln(os.Stdout, strings.Join(os.Args[1:], " "))
}
