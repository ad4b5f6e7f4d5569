package export

import (
	"encoding/csv"
	"io"
)

func writeCSV(w io.Writer, docs []Document) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(lineHeader); err != nil {
		return err
	}
	for _, r := range lineRows(docs) {
		if err := cw.Write(r.strings()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
