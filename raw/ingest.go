package raw

import (
	"runtime"

	"github.com/alitto/pond"
	"github.com/atmos-lidar/lidarcore/lidarerr"
)

// Source names one byte source to decode: Name is the filename used in
// error messages, Bytes the file content.
type Source struct {
	Name  string
	Bytes []byte
}

// FileError pairs a failed source name with the error that skipped it.
type FileError struct {
	Name string
	Err  error
}

// Ingest decodes every source concurrently with decode, collecting a
// Record per success and a FileError per failure without aborting the
// batch — the reader-layer propagation policy of spec §7 ("readers may
// skip an individual bad file"). Concurrency follows the teacher's use of
// a bounded worker pool for file-level fan-out (sixy6e-go-gsf/cmd/main.go:
// "pool := pond.New(n, 0, ...)"), capped at runtime.NumCPU() since decoding
// a single file is CPU-bound, allocation-heavy work with no I/O left to
// overlap once bytes are already in memory (spec §5: "the core never
// performs I/O once bytes are in memory").
func Ingest(sources []Source, decode func(Source) (Record, error)) ([]Record, []FileError) {
	n := runtime.NumCPU()
	if n < 1 {
		n = 1
	}
	pool := pond.New(n, len(sources), pond.MinWorkers(1))
	defer pool.StopAndWait()

	type result struct {
		idx int
		rec Record
		err error
	}
	results := make(chan result, len(sources))

	for i, src := range sources {
		i, src := i, src
		pool.Submit(func() {
			rec, err := decode(src)
			if err != nil {
				err = lidarerr.New(lidarerr.RawParsing, "raw", src.Name, err)
			}
			results <- result{idx: i, rec: rec, err: err}
		})
	}

	ordered := make([]result, len(sources))
	for range sources {
		res := <-results
		ordered[res.idx] = res
	}

	records := make([]Record, 0, len(sources))
	var errs []FileError
	for i, res := range ordered {
		if res.err != nil {
			errs = append(errs, FileError{Name: sources[i].Name, Err: res.err})
			continue
		}
		records = append(records, res.rec)
	}
	return records, errs
}
