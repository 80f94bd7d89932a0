// Command testclient streams simulated transcript fragments to the ingest
// service, or records them to a file for replayclient.
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
	"live-subtitles-service/internal/service/source/mock"
	"live-subtitles-service/internal/transcript"
)

func main() {
	serverAddr := flag.String("server", "localhost:50051", "gRPC server address")
	channel := flag.String("channel", "test-"+time.Now().Format("150405"), "Channel name")
	uid := flag.Int64("uid", 7, "Speaking participant UID")
	interval := flag.Duration("interval", 300*time.Millisecond, "Delay between fragments")
	utterances := flag.Int("utterances", len(mock.DefaultUtterances), "Number of utterances to send")
	out := flag.String("out", "", "Write fragments to this file instead of sending them")
	flag.Parse()

	src := mock.New(*uid)
	var fragments [][]byte
	for i := 0; i < *utterances; i++ {
		fragments = append(fragments, src.Next()...)
	}

	if *out != "" {
		var file []byte
		for _, raw := range fragments {
			file = transcript.AppendDelimited(file, raw)
		}
		if err := os.WriteFile(*out, file, 0o644); err != nil {
			log.Fatalf("failed to write %s: %v", *out, err)
		}
		log.Printf("Recorded %d fragments to %s", len(fragments), *out)
		return
	}

	conn, err := grpc.NewClient(*serverAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("Connected to %s", *serverAddr)

	client := grpcapi.NewFragmentIngestClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(len(fragments)+10)*(*interval+time.Second))
	defer cancel()

	stream, err := client.StreamFragments(grpcapi.WithChannel(ctx, *channel))
	if err != nil {
		log.Fatalf("failed to create stream: %v", err)
	}

	for i, raw := range fragments {
		log.Printf("Sending fragment %d/%d: channel=%s bytes=%d", i+1, len(fragments), *channel, len(raw))
		if err := stream.Send(wrapperspb.Bytes(raw)); err != nil {
			log.Fatalf("failed to send fragment: %v", err)
		}
		time.Sleep(*interval)
	}

	ack, err := stream.CloseAndRecv()
	if err != nil {
		log.Fatalf("failed to receive ack: %v", err)
	}

	log.Printf("Received ack: sessionId=%s", ack.GetValue())
}
