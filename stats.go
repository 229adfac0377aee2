package hnsw

// LevelStats reports connectivity for a single level of the hierarchy.
type LevelStats struct {
	Level          int
	Nodes          int
	Connections    int
	AvgConnections float64
}

// Stats reports structural information about the index: its
// configuration, the current entry point and top level, and
// per-level connectivity. It is a read-only operational aid, grounded
// on the teacher's hnsw.Stats, extended to return a value a caller can
// render however it likes (cmd/hnsw-bench renders it with
// go-humanize) instead of printing directly.
type Stats struct {
	M              int
	MMax           int
	MMax0          int
	EFConstruction int
	Heuristic      bool

	EntryPoint    VectorID
	HasEntryPoint bool
	LevelCurrent  int

	TotalVectors int
	Levels       []LevelStats
}

// Stats computes a Stats snapshot of the index's current state.
func (idx *Index[T]) Stats() Stats {
	s := Stats{
		M:              idx.cfg.M,
		MMax:           idx.cfg.MMax,
		MMax0:          idx.cfg.MMax0,
		EFConstruction: idx.cfg.EFConstruction,
		Heuristic:      idx.cfg.Heuristic,
		EntryPoint:     idx.entryPoint,
		HasEntryPoint:  idx.hasEntryPoint,
		LevelCurrent:   idx.levelCurrent,
		TotalVectors:   idx.store.Len(),
		Levels:         make([]LevelStats, len(idx.layers)),
	}

	for level, layer := range idx.layers {
		members := layer.Members()
		connections := 0
		for _, id := range members {
			connections += len(layer.Neighbors(id))
		}

		avg := 0.0
		if len(members) > 0 {
			avg = float64(connections) / float64(len(members))
		}

		s.Levels[level] = LevelStats{
			Level:          level,
			Nodes:          len(members),
			Connections:    connections,
			AvgConnections: avg,
		}
	}

	return s
}
