package geo

import (
	"context"
	"errors"
	"log"

	"hawkroute/internal/metrics"
	"hawkroute/internal/model"
)

// Fallback answers from Primary and degrades to Secondary when Primary fails.
// Unreachable legs returned by Primary are kept as they are.
type Fallback struct {
	Primary   Provider
	Secondary Provider
}

func (f *Fallback) Distance(ctx context.Context, a, b model.Coordinate) (Leg, error) {
	leg, err := f.Primary.Distance(ctx, a, b)
	if err == nil {
		return leg, nil
	}
	if ctx.Err() != nil {
		return Leg{}, ctx.Err()
	}
	log.Printf("oracle fallback op=distance err=%v", err)
	metrics.OracleFallbacks.Inc()
	return f.Secondary.Distance(ctx, a, b)
}

func (f *Fallback) Matrix(ctx context.Context, origins, destinations []model.Coordinate) ([][]Leg, error) {
	if mp, ok := f.Primary.(MatrixProvider); ok {
		out, err := mp.Matrix(ctx, origins, destinations)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var partial *PartialMatrixError
		if errors.As(err, &partial) && out != nil {
			log.Printf("oracle fallback op=matrix failed_chunks=%d err=%v", len(partial.Failed), partial.Err)
			metrics.OracleFallbacks.Inc()
			if err := fillBlocks(ctx, f.Secondary, out, origins, destinations, partial.Failed); err != nil {
				return nil, err
			}
			return out, nil
		}
		log.Printf("oracle fallback op=matrix origins=%d destinations=%d err=%v", len(origins), len(destinations), err)
		metrics.OracleFallbacks.Inc()
		return pairwise(ctx, f.Secondary, origins, destinations)
	}
	return pairwise(ctx, f, origins, destinations)
}

func pairwise(ctx context.Context, p Provider, origins, destinations []model.Coordinate) ([][]Leg, error) {
	out := make([][]Leg, len(origins))
	for i, o := range origins {
		out[i] = make([]Leg, len(destinations))
		for j, d := range destinations {
			leg, err := p.Distance(ctx, o, d)
			if err != nil {
				return nil, err
			}
			out[i][j] = leg
		}
	}
	return out, nil
}

// fillBlocks overwrites the cells of each block in m with answers from p.
func fillBlocks(ctx context.Context, p Provider, m [][]Leg, origins, destinations []model.Coordinate, blocks []Block) error {
	for _, b := range blocks {
		for i := b.OriginFrom; i < b.OriginTo; i++ {
			for j := b.DestFrom; j < b.DestTo; j++ {
				leg, err := p.Distance(ctx, origins[i], destinations[j])
				if err != nil {
					return err
				}
				m[i][j] = leg
			}
		}
	}
	return nil
}
