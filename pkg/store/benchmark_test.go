package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/Jak3Gil/melvin/pkg/ids"
)

func benchGraph(b *testing.B, s Store, nodes, fanout int) []ids.NodeID {
	b.Helper()
	ctx := context.Background()
	nodeIDs := make([]ids.NodeID, nodes)
	for i := range nodeIDs {
		id, err := s.UpsertNode(ctx, &Node{Type: NodeSymbol, Payload: []byte(fmt.Sprintf("node-%d", i))})
		if err != nil {
			b.Fatalf("seed node failed: %v", err)
		}
		nodeIDs[i] = id
	}
	for i := range nodeIDs {
		for j := 1; j <= fanout; j++ {
			e := &Edge{
				Src:   nodeIDs[i],
				Dst:   nodeIDs[(i+j)%len(nodeIDs)],
				Rel:   RelTemporal,
				WCore: 0.5,
				WCtx:  0.5,
			}
			e.RefreshW()
			if _, err := s.UpsertEdge(ctx, e); err != nil {
				b.Fatalf("seed edge failed: %v", err)
			}
		}
	}
	return nodeIDs
}

func BenchmarkMemStoreUpsertEdge(b *testing.B) {
	ctx := context.Background()
	s := NewMemStore()
	nodeIDs := benchGraph(b, s, 128, 0)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e := &Edge{
			Src:   nodeIDs[i%len(nodeIDs)],
			Dst:   nodeIDs[(i+1)%len(nodeIDs)],
			Rel:   RelTemporal,
			WCore: 0.5,
			WCtx:  0.5,
		}
		e.RefreshW()
		if _, err := s.UpsertEdge(ctx, e); err != nil {
			b.Fatalf("upsert failed: %v", err)
		}
	}
}

func BenchmarkMemStoreOutEdges(b *testing.B) {
	ctx := context.Background()
	s := NewMemStore()
	nodeIDs := benchGraph(b, s, 256, 8)
	mask := MaskOf(RelTemporal)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.OutEdges(ctx, nodeIDs[i%len(nodeIDs)], mask); err != nil {
			b.Fatalf("OutEdges failed: %v", err)
		}
	}
}

func BenchmarkMemStoreDecayPass(b *testing.B) {
	ctx := context.Background()
	s := NewMemStore()
	benchGraph(b, s, 512, 4)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := s.DecayPass(ctx, 0.01, 0.001); err != nil {
			b.Fatalf("DecayPass failed: %v", err)
		}
	}
}

func BenchmarkFileStoreFlush(b *testing.B) {
	fs, err := OpenFileStore(b.TempDir())
	if err != nil {
		b.Fatalf("OpenFileStore failed: %v", err)
	}
	defer fs.Close()
	benchGraph(b, fs, 256, 4)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := fs.Flush(); err != nil {
			b.Fatalf("Flush failed: %v", err)
		}
	}
}
