package pipeline

import (
	"context"
	"sync"

	"github.com/MeKo-Tech/invocr/internal/invoice"
)

// cellOutcome is the result slot of one cell.
type cellOutcome struct {
	cell invoice.RecognizedCell
	done bool
}

// recognizeCells reads cells in chunks of at most chunkSize concurrent
// calls; a chunk starts only after the previous one has fully resolved.
// Cells not reached before ctx ends are left undone.
func (p *Pipeline) recognizeCells(ctx context.Context, cells []invoice.Cell, progress ProgressCallback) []cellOutcome {
	out := make([]cellOutcome, len(cells))
	chunk := max(p.cfg.ChunkSize, 1)

	progress.OnStart(len(cells))
	var (
		mu        sync.Mutex
		completed int
	)
	for start := 0; start < len(cells); start += chunk {
		if ctx.Err() != nil {
			break
		}
		end := min(start+chunk, len(cells))

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				rc, err := p.escalator.Recognize(ctx, cells[i])
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					p.logger.Warn("Cell recognition failed", "row", cells[i].Row, "col", cells[i].Col, "error", err)
					progress.OnError(i, err)
					rc = invoice.RecognizedCell{Cell: cells[i], Tier: invoice.TierNone, Err: err.Error()}
				}
				out[i] = cellOutcome{cell: rc, done: true}

				mu.Lock()
				completed++
				progress.OnProgress(completed, len(cells))
				mu.Unlock()
			}(i)
		}
		wg.Wait()
	}
	return out
}
