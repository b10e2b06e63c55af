// consensus-demo runs a four node voting round over the in-memory channel
// transport: proposal broadcast, quorum evaluation, vote tallies, and the
// effect of a membership change on a pending proposal.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"neuromesh/pkg/consensus"
	"neuromesh/pkg/transport"
)

func main() {
	fmt.Println("=== Quorum Consensus Demo ===")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr := transport.NewChannelTransport(0)
	defer tr.Close()

	ids := make([]uuid.UUID, 4)
	for i := range ids {
		ids[i] = uuid.New()
	}
	engines := make([]*consensus.Engine, len(ids))
	for i, id := range ids {
		engines[i] = consensus.NewEngine(id, tr, consensus.Config{}, zerolog.Nop())
		for j, peer := range ids {
			if i != j {
				engines[i].AddParticipant(peer)
			}
		}
	}
	for _, e := range engines {
		if err := e.Start(ctx); err != nil {
			log.Fatalf("Failed to start engine: %v", err)
		}
	}
	defer func() {
		for _, e := range engines {
			e.Stop()
		}
	}()

	fmt.Printf("Cluster: %d nodes over one channel transport\n", len(ids))

	fmt.Println("\n1. Required votes by algorithm")
	demoAlgorithms(len(ids))

	fmt.Println("\n2. Proposal broadcast")
	proposalID, err := engines[0].Propose(ctx, map[string]any{"action": "scale", "value": 42}, time.Minute)
	if err != nil {
		log.Fatalf("Failed to propose: %v", err)
	}
	waitForAll(engines, func(e *consensus.Engine) bool {
		_, ok := e.Proposal(proposalID)
		return ok
	})
	fmt.Printf("All %d nodes track proposal %s\n", len(engines), proposalID)

	fmt.Println("\n3. Voting to acceptance")
	required := consensus.SimpleMajority.RequiredVotes(len(ids))
	fmt.Printf("Simple majority needs %d of %d accepts\n", required, len(ids))
	for i := 0; i < required; i++ {
		if err := engines[i].CastVote(ctx, proposalID, consensus.VoteAccept); err != nil {
			log.Fatalf("Node %d failed to vote: %v", i, err)
		}
	}
	waitForAll(engines, func(e *consensus.Engine) bool {
		p, ok := e.Proposal(proposalID)
		return ok && p.Status == consensus.StatusAccepted
	})
	p, _ := engines[len(engines)-1].Proposal(proposalID)
	fmt.Printf("Status on the last node: %s with %d recorded votes\n", p.Status, len(p.Votes))

	fmt.Println("\n4. Membership change re-evaluates a pending proposal")
	secondID, err := engines[0].Propose(ctx, map[string]any{"action": "prune"}, time.Minute)
	if err != nil {
		log.Fatalf("Failed to propose: %v", err)
	}
	waitForAll(engines[:3], func(e *consensus.Engine) bool {
		_, ok := e.Proposal(secondID)
		return ok
	})
	for i := 0; i < 2; i++ {
		if err := engines[i].CastVote(ctx, secondID, consensus.VoteAccept); err != nil {
			log.Fatalf("Node %d failed to vote: %v", i, err)
		}
	}
	waitForAll(engines[:2], func(e *consensus.Engine) bool {
		p, ok := e.Proposal(secondID)
		return ok && len(p.Votes) == 2
	})
	p, _ = engines[0].Proposal(secondID)
	fmt.Printf("2 of 4 accepts: status %s\n", p.Status)

	// Dropping the last node shrinks the quorum to 2 of 3; the two accepts
	// now carry the proposal.
	for _, e := range engines[:3] {
		e.RemoveParticipant(ids[3])
	}
	p, _ = engines[0].Proposal(secondID)
	fmt.Printf("After removing one participant: status %s\n", p.Status)

	fmt.Println("\n=== Demo completed successfully! ===")
}

func demoAlgorithms(n int) {
	algorithms := []consensus.Algorithm{
		consensus.SimpleMajority,
		consensus.SuperMajority,
		consensus.Byzantine,
		consensus.Unanimous,
		consensus.Quorum(0.75),
	}
	for _, alg := range algorithms {
		fmt.Printf("  %-16s %d of %d\n", alg.String(), alg.RequiredVotes(n), n)
	}
}

func waitForAll(engines []*consensus.Engine, cond func(*consensus.Engine) bool) {
	deadline := time.Now().Add(5 * time.Second)
	for _, e := range engines {
		for !cond(e) {
			if time.Now().After(deadline) {
				log.Fatal("Timed out waiting for the cluster to converge")
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
}
