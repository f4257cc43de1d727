// Command dgsh-tee is the buffered data-engine binary of spec.md §6:
// it copies, scatters or permutes bytes from its inputs to its
// outputs during the pipeline's data phase.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/dgsh-project/dgsh/internal/dgshenv"
	"github.com/dgsh-project/dgsh/pkg/tee"
)

const (
	exitOK        = 0
	exitIOError   = 2
	exitFatalRead = 3
)

// stringList accumulates repeated -i/-o flags.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	var inputs, outputs stringList
	flag.Var(&inputs, "i", "input file (repeatable; default stdin)")
	flag.Var(&outputs, "o", "output file (repeatable; default stdout)")
	appendMode := flag.Bool("a", false, "append to existing output files")
	pageSize := flag.String("b", "1M", "buffer page size")
	spill := flag.Bool("f", false, "enable disk spill")
	infinite := flag.Bool("I", false, "infinite buffering (read-ib)")
	memCeiling := flag.String("m", "256M", "soft memory ceiling")
	stats := flag.Bool("M", false, "emit per-source buffer statistics")
	permute := flag.String("p", "", "comma-separated sink<-source permutation, e.g. 2,1")
	scatter := flag.Bool("s", false, "scatter mode: partition single source across sinks")
	spillDir := flag.String("T", "", "directory for disk-spill temp files")
	term := flag.String("t", "\n", "record terminator character")
	flag.Parse()

	cfg := dgshenv.Load()
	logger := log.WithField("tool_name", "dgsh-tee").WithField("pid", os.Getpid())

	pageBytes, err := parseSize(*pageSize)
	if err != nil {
		logger.WithError(err).Error("invalid -b")
		os.Exit(exitIOError)
	}
	memBytes, err := parseSize(*memCeiling)
	if err != nil {
		logger.WithError(err).Error("invalid -m")
		os.Exit(exitIOError)
	}
	termByte, err := parseTerminator(*term)
	if err != nil {
		logger.WithError(err).Error("invalid -t")
		os.Exit(exitIOError)
	}

	if *scatter && *permute != "" {
		logger.Error("-s and -p are mutually exclusive")
		os.Exit(exitIOError)
	}

	sources, err := openSources(inputs, pageBytes, memBytes, *spillDir, *spill)
	if err != nil {
		logger.WithError(err).Error("opening inputs")
		os.Exit(exitIOError)
	}
	sinks, mode, topology, err := openSinksAndMode(outputs, sources, *appendMode, *scatter, *permute)
	if err != nil {
		logger.WithError(err).Error("opening outputs")
		os.Exit(exitIOError)
	}

	var statsOut *os.File
	if *stats {
		statsOut = os.Stderr
	}

	engine, err := tee.New(sources, sinks, tee.Options{
		Mode:              mode,
		Topology:          topology,
		RecordTerminator:  termByte,
		InfiniteBuffering: *infinite,
		StatsOut:          statsOut,
	})
	if err != nil {
		logger.WithError(err).Error("constructing engine")
		os.Exit(exitIOError)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	if err := engine.Run(ctx); err != nil {
		logger.WithError(err).Error("data phase")
		os.Exit(exitFatalRead)
	}
	os.Exit(exitOK)
}

func openSources(paths stringList, pageSize, memCeiling int, spillDir string, spillEnabled bool) ([]*tee.Source, error) {
	if len(paths) == 0 {
		return []*tee.Source{tee.NewSource("stdin", os.Stdin, pageSize, memCeiling, spillDir, spillEnabled)}, nil
	}
	sources := make([]*tee.Source, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, err
		}
		sources = append(sources, tee.NewSource(p, f, pageSize, memCeiling, spillDir, spillEnabled))
	}
	return sources, nil
}

func openSinksAndMode(paths stringList, sources []*tee.Source, appendMode, scatter bool, permuteList string) ([]*tee.Sink, tee.Mode, tee.Topology, error) {
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if appendMode {
		flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	}

	var files []*os.File
	if len(paths) == 0 {
		files = []*os.File{os.Stdout}
	} else {
		for _, p := range paths {
			f, err := os.OpenFile(p, flags, 0644)
			if err != nil {
				return nil, 0, 0, err
			}
			files = append(files, f)
		}
	}

	switch {
	case scatter:
		if len(sources) != 1 {
			return nil, 0, 0, fmt.Errorf("scatter mode requires exactly one input")
		}
		sinks := make([]*tee.Sink, len(files))
		for i, f := range files {
			sinks[i] = tee.NewSink(sinkName(paths, i), f, 0)
		}
		return sinks, tee.ModeScatter, tee.TopologyTeeLike, nil

	case permuteList != "":
		order, err := parsePermutation(permuteList, len(sources))
		if err != nil {
			return nil, 0, 0, err
		}
		if len(order) != len(files) {
			return nil, 0, 0, fmt.Errorf("-p list length must match output count")
		}
		sinks := make([]*tee.Sink, len(files))
		for i, f := range files {
			sinks[i] = tee.NewSink(sinkName(paths, i), f, order[i])
		}
		return sinks, tee.ModePermute, tee.TopologyMultipipe, nil

	case len(sources) > 1 && len(files) == 1:
		sinks := []*tee.Sink{tee.NewSink(sinkName(paths, 0), files[0], 0)}
		return sinks, tee.ModeCopy, tee.TopologyCatLike, nil

	case len(sources) == 1 && len(files) > 1:
		sinks := make([]*tee.Sink, len(files))
		for i, f := range files {
			sinks[i] = tee.NewSink(sinkName(paths, i), f, 0)
		}
		return sinks, tee.ModeCopy, tee.TopologyTeeLike, nil

	default:
		n := len(files)
		if len(sources) < n {
			n = len(sources)
		}
		group := len(files) / n
		sinks := make([]*tee.Sink, len(files))
		for i, f := range files {
			idx := i / group
			if idx >= len(sources) {
				idx = len(sources) - 1
			}
			sinks[i] = tee.NewSink(sinkName(paths, i), f, idx)
		}
		return sinks, tee.ModeCopy, tee.TopologyMultipipe, nil
	}
}

func sinkName(paths stringList, i int) string {
	if i < len(paths) {
		return paths[i]
	}
	return "stdout"
}

func parsePermutation(list string, nsources int) ([]int, error) {
	parts := strings.Split(list, ",")
	order := make([]int, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid -p entry %q: %w", p, err)
		}
		idx := v - 1
		if idx < 0 || idx >= nsources {
			return nil, fmt.Errorf("-p entry %d out of range for %d sources", v, nsources)
		}
		order[i] = idx
	}
	return order, nil
}

func parseTerminator(s string) (byte, error) {
	switch s {
	case "\\0", "\\x00":
		return 0, nil
	case "\\n", "":
		return '\n', nil
	}
	if len(s) == 1 {
		return s[0], nil
	}
	return 0, fmt.Errorf("terminator must be a single character: %q", s)
}

func parseSize(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}
	mult := 1
	suffix := s[len(s)-1]
	switch suffix {
	case 'k', 'K':
		mult = 1 << 10
		s = s[:len(s)-1]
	case 'm', 'M':
		mult = 1 << 20
		s = s[:len(s)-1]
	case 'g', 'G':
		mult = 1 << 30
		s = s[:len(s)-1]
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	return n * mult, nil
}
