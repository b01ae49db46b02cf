package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	pulseflow "github.com/ghalamif/PulseFlow"
)

func main() {
	flow, err := pulseflow.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sub, frames, closeFrames := pulseflow.NewChannelSubscriber("alerts", 256)
	defer closeFrames()

	go alertWorker("spo2", frames)

	if err := flow.Run(ctx, pulseflow.StreamOutSubscriber(sub)); err != nil && err != context.Canceled {
		log.Fatalf("relay error: %v", err)
	}
}

// alertWorker flags low oxygen readings from the smoothed stream.
func alertWorker(field string, frames <-chan pulseflow.Frame) {
	for f := range frames {
		if v, ok := f.Fields[field]; ok && v < 92 {
			fmt.Printf("[%s] %s=%.0f on %s seq=%d\n", time.Now().Format(time.RFC3339), field, v, f.SourceID, f.Sequence)
		}
	}
}
