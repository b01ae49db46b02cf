package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/ghalamif/PulseFlow/pkg/pulseflow"
)

func main() {
	flow, err := pulseflow.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	callback := func(_ context.Context, f pulseflow.Frame) error {
		fmt.Printf("%s source=%s seq=%d latency=%dms fields=%v\n",
			time.UnixMilli(f.ReceivedAtMs).Format(time.RFC3339Nano),
			f.SourceID,
			f.Sequence,
			f.LatencyMs,
			f.Fields,
		)
		return nil
	}

	if err := flow.Run(ctx, pulseflow.StreamOutCallback("stdout", callback)); err != nil && err != context.Canceled {
		log.Fatalf("relay error: %v", err)
	}
}
