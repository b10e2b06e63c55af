// gradient-demo walks the backward propagation path over the in-memory
// channel transport: clipping, batch accumulation with automatic dispatch,
// the significance filter, and negotiated compression.
package main

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"neuromesh/pkg/gradient"
	"neuromesh/pkg/transport"
)

func main() {
	fmt.Println("=== Gradient Protocol Demo ===")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr := transport.NewChannelTransport(0)
	defer tr.Close()

	sourceID, targetID := uuid.New(), uuid.New()
	source := gradient.NewProtocol(sourceID, tr, gradient.Config{BatchSize: 3}, zerolog.Nop())
	target := gradient.NewProtocol(targetID, tr, gradient.Config{}, zerolog.Nop())

	fmt.Println("\n1. Compression negotiation")
	negotiated, err := source.Negotiate(target.Capabilities())
	if err != nil {
		log.Fatalf("Negotiation failed: %v", err)
	}
	source.SetNegotiated(negotiated)
	target.SetNegotiated(negotiated)
	fmt.Printf("Agreed on %s compression, max message %d bytes\n",
		negotiated.Compression, negotiated.MaxMessageSize)

	fmt.Println("\n2. Clipping")
	g := gradient.New(0.9, []float32{6, 8})
	fmt.Printf("Raw magnitude: %.2f\n", g.Magnitude)
	source.ClipGradient(g, 5)
	fmt.Printf("Clipped to max norm 5: magnitude %.2f, direction [%.1f %.1f]\n",
		g.Magnitude, g.Direction[0], g.Direction[1])

	fmt.Println("\n3. Batch accumulation with automatic dispatch")
	inbox, err := target.Receive(ctx)
	if err != nil {
		log.Fatalf("Failed to open inbox: %v", err)
	}
	defer inbox.Close()

	batch := []*gradient.Gradient{
		gradient.New(0.3, []float32{1, 0}),
		gradient.New(0.1, []float32{0, 1}),
		gradient.New(0.2, []float32{1, 1}),
	}
	for i, item := range batch {
		if err := source.AccumulateGradient(ctx, targetID, item); err != nil {
			log.Fatalf("Failed to accumulate gradient %d: %v", i, err)
		}
		fmt.Printf("Accumulated %d of %d\n", i+1, len(batch))
	}

	msg, err := inbox.Recv(ctx)
	if err != nil {
		log.Fatalf("Failed to receive batch average: %v", err)
	}
	fmt.Printf("Batch average arrived: error %.3f, magnitude %.3f, steps %d\n",
		msg.Gradient.Error, msg.Gradient.Magnitude, msg.Gradient.Steps)

	fmt.Println("\n4. Significance filter")
	noise := gradient.New(0, []float32{0.0001, 0.0001})
	if err := source.SendGradient(ctx, gradient.NewMessage(sourceID, targetID, noise, gradient.DefaultContext(1))); err != nil {
		log.Fatalf("Failed to send noise gradient: %v", err)
	}
	metrics := source.Metrics()
	fmt.Printf("Noise below threshold was dropped: sent %d, filtered %d\n",
		metrics.GradientsSent, metrics.InsignificantDropped)

	fmt.Println("\n=== Demo completed successfully! ===")
}
