package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/dgsh-project/dgsh/internal/graph"
)

// byteOrder is fixed at little-endian: spec.md §6 assumes a common host
// encoding between peers and explicitly scopes the protocol to a single
// host.
var byteOrder = binary.LittleEndian

const nameMax = 55

// wireHeader is the fixed block header written first on every chunked
// block, scalars only (pointer-typed fields in the original C layout
// have no representation here at all, since the arena holds indices).
type wireHeader struct {
	Version           int32
	State             int32
	ErrorConfirmed    uint8
	DrawExitConfirmed uint8
	IsOriginConc      uint8
	_                 uint8
	InitiatorPid      int32
	OriginIndex       int32
	OriginFdDirection int32
	ConcPid           int32
	NNodes            int32
	NEdges            int32
	NConcs            int32
}

type wireNode struct {
	Pid     int32
	ReqIn   int32
	ProvOut int32
	DgshIn  uint8
	DgshOut uint8
	_       [2]uint8
	Index   int32
	NameLen uint8
	Name    [nameMax]uint8
}

type wireEdge struct {
	From          int32
	To            int32
	Instances     int32
	FromInstances int32
	ToInstances   int32
}

type wireConcHeader struct {
	Pid        int32
	Kind       int32
	SinglePid  int32
	InputFds   int32
	OutputFds  int32
	NProcPids  int32
}

type wireSolutionHeader struct {
	NIncoming int32
	NOutgoing int32
}

// Encode writes a message block to w using the chunk framing of
// SPEC_FULL.md §4.1: header, then (if present) nodes, concs (+ per-conc
// pid arrays), edges (NEGOTIATION only), then the graph solution (RUN
// only).
func Encode(w io.Writer, b *graph.Block) error {
	hdr := wireHeader{
		Version:           b.Version,
		State:             int32(b.State),
		ErrorConfirmed:    boolByte(b.ErrorConfirmed),
		DrawExitConfirmed: boolByte(b.DrawExitConfirmed),
		IsOriginConc:      boolByte(b.IsOriginConc),
		InitiatorPid:      b.InitiatorPid,
		OriginIndex:       b.OriginIndex,
		OriginFdDirection: int32(b.OriginFdDirection),
		ConcPid:           b.ConcPid,
		NNodes:            int32(len(b.Nodes)),
		NEdges:            int32(len(b.Edges)),
		NConcs:            int32(len(b.Concs)),
	}
	if err := writeStruct(w, &hdr); err != nil {
		return err
	}

	if len(b.Nodes) > 0 {
		wnodes := make([]wireNode, len(b.Nodes))
		for i, n := range b.Nodes {
			wnodes[i] = toWireNode(n)
		}
		if err := writeSlice(w, wnodes); err != nil {
			return err
		}
	}

	if len(b.Concs) > 0 {
		wconcs := make([]wireConcHeader, len(b.Concs))
		for i, c := range b.Concs {
			wconcs[i] = wireConcHeader{
				Pid:       c.Pid,
				Kind:      int32(c.Kind),
				SinglePid: c.SinglePid,
				InputFds:  c.InputFds,
				OutputFds: c.OutputFds,
				NProcPids: int32(len(c.MultiPids)),
			}
		}
		if err := writeSlice(w, wconcs); err != nil {
			return err
		}
		for _, c := range b.Concs {
			if len(c.MultiPids) == 0 {
				continue
			}
			if err := writeSlice(w, c.MultiPids); err != nil {
				return err
			}
		}
	}

	if b.State == graph.StateNegotiation && len(b.Edges) > 0 {
		wedges := make([]wireEdge, len(b.Edges))
		for i, e := range b.Edges {
			wedges[i] = wireEdge{
				From:          e.From,
				To:            e.To,
				Instances:     e.Instances,
				FromInstances: e.FromInstances,
				ToInstances:   e.ToInstances,
			}
		}
		if err := writeSlice(w, wedges); err != nil {
			return err
		}
	}

	if b.State == graph.StateRun {
		wsol := make([]wireSolutionHeader, len(b.Solution))
		for i, s := range b.Solution {
			wsol[i] = wireSolutionHeader{
				NIncoming: int32(len(s.Incoming)),
				NOutgoing: int32(len(s.Outgoing)),
			}
		}
		if err := writeSlice(w, wsol); err != nil {
			return err
		}
		for _, s := range b.Solution {
			if len(s.Incoming) > 0 {
				if err := writeSlice(w, s.Incoming); err != nil {
					return err
				}
			}
		}
		for _, s := range b.Solution {
			if len(s.Outgoing) > 0 {
				if err := writeSlice(w, s.Outgoing); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

// Decode reads a message block from r, mirroring Encode exactly.
func Decode(r io.Reader) (*graph.Block, error) {
	var hdr wireHeader
	if err := readStruct(r, &hdr); err != nil {
		return nil, err
	}

	b := &graph.Block{
		Version:           hdr.Version,
		State:             graph.State(hdr.State),
		ErrorConfirmed:    hdr.ErrorConfirmed != 0,
		DrawExitConfirmed: hdr.DrawExitConfirmed != 0,
		IsOriginConc:      hdr.IsOriginConc != 0,
		InitiatorPid:      hdr.InitiatorPid,
		OriginIndex:       hdr.OriginIndex,
		OriginFdDirection: graph.FdDirection(hdr.OriginFdDirection),
		ConcPid:           hdr.ConcPid,
	}

	if hdr.NNodes > 0 {
		wnodes := make([]wireNode, hdr.NNodes)
		if err := readSlice(r, wnodes); err != nil {
			return nil, err
		}
		b.Nodes = make([]graph.Node, len(wnodes))
		for i, wn := range wnodes {
			b.Nodes[i] = fromWireNode(wn)
		}
	}

	if hdr.NConcs > 0 {
		wconcs := make([]wireConcHeader, hdr.NConcs)
		if err := readSlice(r, wconcs); err != nil {
			return nil, err
		}
		b.Concs = make([]graph.ConcRecord, len(wconcs))
		for i, wc := range wconcs {
			b.Concs[i] = graph.ConcRecord{
				Pid:       wc.Pid,
				Kind:      graph.ConcKind(wc.Kind),
				SinglePid: wc.SinglePid,
				InputFds:  wc.InputFds,
				OutputFds: wc.OutputFds,
			}
		}
		for i, wc := range wconcs {
			if wc.NProcPids == 0 {
				continue
			}
			pids := make([]int32, wc.NProcPids)
			if err := readSlice(r, pids); err != nil {
				return nil, err
			}
			b.Concs[i].MultiPids = pids
		}
	}

	if b.State == graph.StateNegotiation && hdr.NEdges > 0 {
		wedges := make([]wireEdge, hdr.NEdges)
		if err := readSlice(r, wedges); err != nil {
			return nil, err
		}
		b.Edges = make([]graph.Edge, len(wedges))
		for i, we := range wedges {
			b.Edges[i] = graph.Edge{
				From:          we.From,
				To:            we.To,
				Instances:     we.Instances,
				FromInstances: we.FromInstances,
				ToInstances:   we.ToInstances,
			}
		}
	}

	if b.State == graph.StateRun {
		wsol := make([]wireSolutionHeader, hdr.NNodes)
		if err := readSlice(r, wsol); err != nil {
			return nil, err
		}
		b.Solution = make([]graph.NodeSolution, len(wsol))
		for i, ws := range wsol {
			if ws.NIncoming > 0 {
				idx := make([]int32, ws.NIncoming)
				if err := readSlice(r, idx); err != nil {
					return nil, err
				}
				b.Solution[i].Incoming = idx
			}
		}
		for i, ws := range wsol {
			if ws.NOutgoing > 0 {
				idx := make([]int32, ws.NOutgoing)
				if err := readSlice(r, idx); err != nil {
					return nil, err
				}
				b.Solution[i].Outgoing = idx
			}
		}
	}

	return b, nil
}

func toWireNode(n graph.Node) wireNode {
	wn := wireNode{
		Pid:     n.Pid,
		ReqIn:   n.RequiredInputs,
		ProvOut: n.ProvidedOutputs,
		DgshIn:  boolByte(n.DgshIn),
		DgshOut: boolByte(n.DgshOut),
		Index:   n.Index,
	}
	name := n.Name
	if len(name) > nameMax {
		name = name[:nameMax]
	}
	wn.NameLen = uint8(len(name))
	copy(wn.Name[:], name)
	return wn
}

func fromWireNode(wn wireNode) graph.Node {
	return graph.Node{
		Pid:             wn.Pid,
		Name:            string(wn.Name[:wn.NameLen]),
		RequiredInputs:  wn.ReqIn,
		ProvidedOutputs: wn.ProvOut,
		DgshIn:          wn.DgshIn != 0,
		DgshOut:         wn.DgshOut != 0,
		Index:           wn.Index,
	}
}

func boolByte(v bool) uint8 {
	if v {
		return 1
	}
	return 0
}

// writeStruct serializes a single fixed-size struct as one chunk.
func writeStruct(w io.Writer, v any) error {
	var buf bytes.Buffer
	if err := binary.Write(&buf, byteOrder, v); err != nil {
		return fmt.Errorf("wire: encode header: %w", err)
	}
	return writeChunk(w, buf.Bytes(), buf.Len())
}

func readStruct(r io.Reader, v any) error {
	size := binary.Size(v)
	if size < 0 {
		return fmt.Errorf("wire: header has no fixed size")
	}
	buf := make([]byte, size)
	if err := readChunk(r, buf); err != nil {
		return err
	}
	return binary.Read(bytes.NewReader(buf), byteOrder, v)
}

// writeSlice serializes a homogeneous slice of fixed-size elements as
// one chunk (element-aligned splitting happens inside writeChunk).
func writeSlice[T any](w io.Writer, s []T) error {
	if len(s) == 0 {
		return nil
	}
	elemSize := binary.Size(s[0])
	if elemSize < 0 {
		return fmt.Errorf("wire: element has no fixed size")
	}
	var buf bytes.Buffer
	if err := binary.Write(&buf, byteOrder, s); err != nil {
		return fmt.Errorf("wire: encode array: %w", err)
	}
	return writeChunk(w, buf.Bytes(), elemSize)
}

func readSlice[T any](r io.Reader, s []T) error {
	if len(s) == 0 {
		return nil
	}
	elemSize := binary.Size(s[0])
	if elemSize < 0 {
		return fmt.Errorf("wire: element has no fixed size")
	}
	buf := make([]byte, elemSize*len(s))
	if err := readChunk(r, buf); err != nil {
		return err
	}
	return binary.Read(bytes.NewReader(buf), byteOrder, s)
}
