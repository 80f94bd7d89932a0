// Command replayclient replays a recorded fragment file to the ingest
// service at its original pace.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"

	grpcapi "live-subtitles-service/internal/api/grpc"
	"live-subtitles-service/internal/transcript"
)

func main() {
	file := flag.String("file", "fragments.bin", "Recorded fragment file (varint length-delimited)")
	serverAddr := flag.String("server", "localhost:50051", "gRPC server address")
	channel := flag.String("channel", "replay-"+time.Now().Format("150405"), "Channel name")
	speed := flag.Float64("speed", 1.0, "Playback speed multiplier")
	fallback := flag.Duration("interval", 200*time.Millisecond, "Delay used when fragments carry no timing")
	flag.Parse()

	data, err := os.ReadFile(*file)
	if err != nil {
		log.Fatalf("Failed to read fragment file: %v", err)
	}
	fragments, err := transcript.SplitDelimited(data)
	if err != nil {
		log.Printf("Warning: %v, replaying %d complete records", err, len(fragments))
	}
	if len(fragments) == 0 {
		log.Fatal("No fragments to replay")
	}
	if *speed <= 0 {
		*speed = 1.0
	}

	conn, err := grpc.NewClient(*serverAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("Connected to %s, replaying %d fragments to channel %s", *serverAddr, len(fragments), *channel)

	client := grpcapi.NewFragmentIngestClient(conn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := client.StreamFragments(grpcapi.WithChannel(ctx, *channel))
	if err != nil {
		log.Fatalf("Failed to create stream: %v", err)
	}

	var prevTime int64
	start := time.Now()
	for i, raw := range fragments {
		wait := *fallback
		// Pace by the fragment's own timestamp when it has one.
		if f, err := transcript.Decode(raw); err == nil && f.Time > 0 {
			if prevTime > 0 && f.Time >= prevTime {
				wait = time.Duration(f.Time-prevTime) * time.Millisecond
			}
			prevTime = f.Time
		}
		if i > 0 {
			time.Sleep(time.Duration(float64(wait) / *speed))
		}

		if err := stream.Send(wrapperspb.Bytes(raw)); err != nil {
			log.Fatalf("Failed to send fragment %d: %v", i, err)
		}
	}

	ack, err := stream.CloseAndRecv()
	if err != nil {
		log.Fatalf("Failed to receive ack: %v", err)
	}

	log.Printf("Replay complete: fragments=%d duration=%v sessionId=%s",
		len(fragments), time.Since(start).Round(time.Millisecond), ack.GetValue())
}
