// Command dgsh-conc is the concentrator binary of spec.md §6: it relays
// negotiation blocks among the peers attached to a gather or scatter
// junction, then exits, leaving the peers connected directly by fds.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dgsh-project/dgsh/internal/dgshenv"
	"github.com/dgsh-project/dgsh/internal/dgsherr"
	"github.com/dgsh-project/dgsh/pkg/conc"
)

const (
	exitComplete = 0
	exitProtocol = 65
	exitDrawExit = 69
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s -i|-o [-n] nprog\n", os.Args[0])
	flag.PrintDefaults()
	os.Exit(1)
}

func main() {
	gather := flag.Bool("i", false, "input concentrator: multiple inputs to a single output")
	scatter := flag.Bool("o", false, "output concentrator: single input to multiple outputs")
	noInput := flag.Bool("n", false, "do not consider standard input (used with -o)")
	flag.Usage = usage
	flag.Parse()

	if *gather == *scatter {
		usage()
	}
	if *noInput && *gather {
		usage()
	}
	if flag.NArg() != 1 {
		usage()
	}

	arity := 0
	if _, err := fmt.Sscanf(flag.Arg(0), "%d", &arity); err != nil || arity < 1 {
		usage()
	}

	kind := conc.KindScatter
	if *gather {
		kind = conc.KindGather
	}

	nfd := 2
	if arity != 1 {
		nfd = arity + 2
	}
	peerFiles := make([]*os.File, 0, nfd)
	for fd := 3; fd < nfd; fd++ {
		peerFiles = append(peerFiles, os.NewFile(uintptr(fd), fmt.Sprintf("peer%d", fd)))
	}

	cfg := dgshenv.Load()
	relay, err := conc.New(kind, *noInput, arity, os.Stdin, os.Stdout, peerFiles, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "dgsh-conc:", err)
		os.Exit(exitProtocol)
	}

	outcome, err := relay.Run(time.Now().Add(cfg.Timeout))
	if err != nil {
		fmt.Fprintln(os.Stderr, "dgsh-conc:", err)
		if isProtocolFailure(err) {
			os.Exit(exitProtocol)
		}
		os.Exit(1)
	}

	if outcome == conc.OutcomeDrawExit {
		os.Exit(exitDrawExit)
	}
	os.Exit(exitComplete)
}

func isProtocolFailure(err error) bool {
	return errors.Is(err, dgsherr.ErrProtocol) ||
		errors.Is(err, dgsherr.ErrTimeout) ||
		errors.Is(err, dgsherr.ErrUnsatisfiable)
}
