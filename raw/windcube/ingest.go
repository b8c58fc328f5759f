package windcube

import "github.com/atmos-lidar/lidarcore/raw"

// Ingest decodes one WindCube sweep-group file per source, assigning each a
// ScanIndex equal to its position in sources — the Go-side equivalent of
// _from_vad_src's enumerate(i, group) loop, with the sweep-group boundary
// moved from inside one HDF5 container to the granularity of the source
// list itself (see the grounding ledger). Decoding here is sequential,
// unlike raw.Ingest's worker pool: the per-file ScanIndex must match file
// order, and sweep files are typically few and small compared to a Halo
// or WindCube stare campaign's file count.
func Ingest(sources []raw.Source) ([]raw.Record, []raw.FileError) {
	records := make([]raw.Record, 0, len(sources))
	var errs []raw.FileError
	for i, src := range sources {
		rec, err := DecodeRecord(int64(i))(src)
		if err != nil {
			errs = append(errs, raw.FileError{Name: src.Name, Err: err})
			continue
		}
		records = append(records, rec)
	}
	return records, errs
}
