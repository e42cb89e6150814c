package beam

import (
	"context"
	"fmt"
	"testing"

	"github.com/Jak3Gil/melvin/pkg/ids"
	"github.com/Jak3Gil/melvin/pkg/query"
	"github.com/Jak3Gil/melvin/pkg/scoring"
	"github.com/Jak3Gil/melvin/pkg/store"
)

// layeredGraph builds `layers` ranks of `width` nodes with full forward
// connectivity between adjacent ranks.
func layeredGraph(b *testing.B, layers, width int) (store.Store, ids.NodeID) {
	b.Helper()
	ctx := context.Background()
	s := store.NewMemStore()

	ranks := make([][]ids.NodeID, layers)
	for l := 0; l < layers; l++ {
		ranks[l] = make([]ids.NodeID, width)
		for w := 0; w < width; w++ {
			id, err := s.UpsertNode(ctx, &store.Node{
				Type:    store.NodeSymbol,
				Payload: []byte(fmt.Sprintf("l%dw%d", l, w)),
			})
			if err != nil {
				b.Fatalf("seed node failed: %v", err)
			}
			ranks[l][w] = id
		}
	}
	for l := 0; l+1 < layers; l++ {
		for _, src := range ranks[l] {
			for _, dst := range ranks[l+1] {
				e := &store.Edge{Src: src, Dst: dst, Rel: store.RelTemporal, WCore: 0.5, WCtx: 0.5}
				e.RefreshW()
				if _, err := s.UpsertEdge(ctx, e); err != nil {
					b.Fatalf("seed edge failed: %v", err)
				}
			}
		}
	}
	return s, ranks[0][0]
}

func BenchmarkSearchShallowWide(b *testing.B) {
	s, start := layeredGraph(b, 3, 16)
	eng := NewEngine(s, scoring.DefaultWeights(), nil)
	q := query.New("benchmark query")
	params := DefaultParams()
	params.MaxDepth = 2

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if paths := eng.Search(context.Background(), q, start, store.AllRelations(), scoring.NeutralBias(), params); len(paths) == 0 {
			b.Fatal("no paths")
		}
	}
}

func BenchmarkSearchDeepNarrow(b *testing.B) {
	s, start := layeredGraph(b, 8, 4)
	eng := NewEngine(s, scoring.DefaultWeights(), nil)
	q := query.New("benchmark query")
	params := DefaultParams()
	params.MaxDepth = 7
	params.BeamWidth = 8

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if paths := eng.Search(context.Background(), q, start, store.AllRelations(), scoring.NeutralBias(), params); len(paths) == 0 {
			b.Fatal("no paths")
		}
	}
}
