package storage

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"rings/internal/model"
)

// ErrTruncatedStream means the stream ended inside a record.
var ErrTruncatedStream = errors.New("population stream truncated")

// WritePopulationStream writes genomes as concatenated JSON records, one per
// line.
func WritePopulationStream(w io.Writer, genomes []model.GenomeRecord) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for _, g := range genomes {
		g.VersionedRecord = Current()
		if err := enc.Encode(g); err != nil {
			return fmt.Errorf("encode genome %s: %w", g.ID, err)
		}
	}
	return bw.Flush()
}

// ReadPopulationStream reads records until the end of r. A clean end between
// records stops reading; ending inside a record is ErrTruncatedStream.
func ReadPopulationStream(r io.Reader) ([]model.GenomeRecord, error) {
	dec := json.NewDecoder(r)
	var out []model.GenomeRecord
	for {
		var g model.GenomeRecord
		err := dec.Decode(&g)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return out, fmt.Errorf("after %d records: %w", len(out), ErrTruncatedStream)
		}
		if err != nil {
			return out, fmt.Errorf("record %d: %w", len(out), err)
		}
		if err := checkVersion(g.VersionedRecord); err != nil {
			return out, fmt.Errorf("record %d (%s): %w", len(out), g.ID, err)
		}
		out = append(out, g)
	}
}
