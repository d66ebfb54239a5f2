// Package main probes a service health endpoint and exits non-zero when the
// service is not SERVING within the timeout. Used as a container readiness
// probe for the delivery worker.
package main

import (
	"context"
	"flag"
	"log"

	platformgrpc "github.com/louisbranch/courier.space/internal/platform/grpc"
	"github.com/louisbranch/courier.space/internal/platform/timeouts"
)

func main() {
	addr := flag.String("addr", "localhost:8089", "health endpoint address")
	timeout := flag.Duration("timeout", timeouts.GRPCDial, "probe timeout")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, err := platformgrpc.DialWithHealth(ctx, *addr, *timeout, log.Printf)
	if err != nil {
		log.Fatalf("health probe: %v", err)
	}
	_ = conn.Close()
}
