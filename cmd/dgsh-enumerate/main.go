// Command dgsh-enumerate is a source-only participant that negotiates
// an arbitrary or fixed number of output channels and writes its
// 0-based index, newline-terminated, to each one. Grounded on
// original_source/core-tools/src/dgsh-enumerate.c.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/dgsh-project/dgsh/pkg/negotiate"
)

func main() {
	output := negotiate.ChannelSpec{Flexible: true}
	if len(os.Args) == 2 {
		n, err := strconv.Atoi(os.Args[1])
		if err != nil || n < 0 {
			fmt.Fprintf(os.Stderr, "usage: %s [n]\n", os.Args[0])
			os.Exit(1)
		}
		output = negotiate.ChannelSpec{Count: int32(n)}
	} else if len(os.Args) > 2 {
		fmt.Fprintf(os.Stderr, "usage: %s [n]\n", os.Args[0])
		os.Exit(1)
	}

	result, err := negotiate.Negotiate(context.Background(), negotiate.Options{
		ToolName: "dgsh-enumerate",
		Input:    negotiate.ChannelSpec{Count: 0},
		Output:   output,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "dgsh-enumerate:", err)
		os.Exit(1)
	}
	if result.Outcome == negotiate.OutcomeDrawExit {
		os.Exit(69)
	}

	for i, fd := range result.OutputFds {
		f := os.NewFile(uintptr(fd), fmt.Sprintf("out%d", i))
		fmt.Fprintf(f, "%d\n", i)
		f.Close()
	}
}
