package melvin_test

import (
	"context"
	"fmt"
	"log"

	"github.com/Jak3Gil/melvin/pkg/ids"
	"github.com/Jak3Gil/melvin/pkg/melvin"
	"github.com/Jak3Gil/melvin/pkg/store"
)

// Example seeds a tiny taxonomy and asks a definition question.
func Example() {
	engine, err := melvin.New("", melvin.DefaultConfig())
	if err != nil {
		log.Fatal(err)
	}
	defer engine.Close()

	ctx := context.Background()
	s := engine.Store()

	nodeIDs := make(map[string]ids.NodeID)
	for _, name := range []string{"cats", "mammals"} {
		n := &store.Node{Type: store.NodeSymbol, Payload: []byte(name)}
		id, err := s.UpsertNode(ctx, n)
		if err != nil {
			log.Fatal(err)
		}
		nodeIDs[name] = id
	}
	edge := &store.Edge{
		Src:   nodeIDs["cats"],
		Dst:   nodeIDs["mammals"],
		Rel:   store.RelExact,
		WCore: 0.9,
	}
	edge.RefreshW()
	if _, err := s.UpsertEdge(ctx, edge); err != nil {
		log.Fatal(err)
	}

	answer, err := engine.Reason(ctx, "What are cats?")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(answer)
	// Output: Cats is mammals.
}
