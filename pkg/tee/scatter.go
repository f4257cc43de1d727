package tee

// assignScatter partitions the bytes newly available on the single
// source — [scatterPos, pool.End()) — across the available sinks
// (active, with nothing pending), record-aligned, per spec.md §4.4.3. Each sink's nominal share is
// ⌊N/sinks⌋ plus remainder for the earliest sinks; each boundary is
// snapped backward to the last record terminator at or before it. If
// no terminator is found anywhere in the available region, assignment
// is deferred entirely until more data arrives.
func (e *Engine) assignScatter() {
	src := e.sources[0]
	end := src.pool.End()
	avail := end - e.scatterPos
	if avail <= 0 {
		return
	}

	active := activeSinks(e.sinks)
	if len(active) == 0 {
		return
	}

	data := make([]byte, avail)
	if _, err := src.pool.ReadAt(e.scatterPos, data); err != nil {
		return
	}

	n := len(active)
	base := avail / int64(n)
	rem := avail % int64(n)

	boundaries := make([]int64, n+1)
	boundaries[0] = 0
	for i := 0; i < n; i++ {
		share := base
		if int64(i) < rem {
			share++
		}
		boundaries[i+1] = boundaries[i] + share
	}

	// Snap every interior boundary to the terminator at or before it
	// (fast path: backward scan within this window).
	for i := 1; i < n; i++ {
		nominal := boundaries[i]
		snapped, ok := scanBackForTerminator(data, nominal, e.opts.RecordTerminator)
		if !ok {
			snapped, ok = scanForwardForTerminator(data, nominal, e.opts.RecordTerminator)
		}
		if !ok {
			// No terminator anywhere usable for this boundary: defer
			// the whole assignment round until more data arrives.
			return
		}
		boundaries[i] = snapped
	}

	for i, sk := range active {
		lo := boundaries[i]
		hi := boundaries[i+1]
		if hi > lo {
			sk.posWritten = e.scatterPos + lo
			sk.posToWrite = e.scatterPos + hi
		}
	}
	e.scatterPos += boundaries[n]
}

func activeSinks(sinks []*Sink) []*Sink {
	var out []*Sink
	for _, sk := range sinks {
		if sk.active && !sk.pending() {
			out = append(out, sk)
		}
	}
	return out
}

// scanBackForTerminator finds the offset just past the last terminator
// at or before nominal, scanning backward from nominal. Returns
// (nominal, false) territory collapses to (0, false) if none found
// within the window behind it down to 0.
func scanBackForTerminator(data []byte, nominal int64, term byte) (int64, bool) {
	if nominal <= 0 || nominal > int64(len(data)) {
		return 0, false
	}
	for i := nominal - 1; i >= 0; i-- {
		if data[i] == term {
			return i + 1, true
		}
	}
	return 0, false
}

// scanForwardForTerminator is the reliable fallback: scan forward from
// nominal for the next terminator, returning the offset just past it.
func scanForwardForTerminator(data []byte, nominal int64, term byte) (int64, bool) {
	for i := nominal; i < int64(len(data)); i++ {
		if data[i] == term {
			return i + 1, true
		}
	}
	return 0, false
}
