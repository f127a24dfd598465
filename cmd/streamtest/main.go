// streamtest replays a captured length-delimited stream through the decoder
// and a feed classifier, then prints per-channel counts.
// Usage: go run ./cmd/streamtest --input capture.bin --feed filter
//
// With no --input the capture is read from stdin. Pass --verbose to print
// every classified message.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/rickgao/firehose/internal/config"
	"github.com/rickgao/firehose/internal/feed"
	"github.com/rickgao/firehose/internal/router"
	"github.com/rickgao/firehose/internal/stream"
)

func main() {
	input := flag.String("input", "", "captured stream file (default stdin)")
	feedType := flag.String("feed", config.FeedFilter, "classifier to use (filter, user)")
	fields := flag.String("fields", "", "comma-separated fields kept by the filter classifier")
	maxFrame := flag.Int("max-frame", stream.DefaultConfig().MaxFrameSize, "largest accepted frame in bytes")
	verbose := flag.Bool("verbose", false, "print full message JSON")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	var r io.Reader = os.Stdin
	if *input != "" {
		f, err := os.Open(*input)
		if err != nil {
			logger.Error("failed to open capture", "error", err)
			os.Exit(1)
		}
		defer f.Close()
		r = f
	}

	var classifier router.Classifier
	switch *feedType {
	case config.FeedFilter:
		cfg := feed.FilterConfig{}
		if *fields != "" {
			cfg.Fields = strings.Split(*fields, ",")
		}
		classifier = feed.NewFilter(cfg, logger)
	case config.FeedUser:
		classifier = feed.NewUser(feed.UserConfig{}, logger)
	default:
		logger.Error("unknown feed type", "feed", *feedType)
		os.Exit(2)
	}

	buffer := router.NewChannelBuffer[router.Message]()
	dec := stream.NewDecoder(r, *maxFrame)

	var frames, keepAlives, parseErrors, dropped int
	for {
		payload, err := dec.ReadMessage()
		if err != nil {
			if !errors.Is(err, stream.ErrStreamRead) {
				logger.Error("bad frame", "error", err, "bytes_read", dec.Consumed())
			}
			break
		}
		if payload == nil {
			keepAlives++
			continue
		}
		frames++

		msg, err := router.DecodeMessage(payload)
		if err != nil {
			parseErrors++
			logger.Warn("could not parse message", "error", err, "bytes", len(payload))
			continue
		}

		channel, out, ok := classifier.Classify(msg)
		if !ok {
			dropped++
			continue
		}
		buffer.Append(channel, out)

		if *verbose {
			data, _ := json.MarshalIndent(out, "", "  ")
			fmt.Printf("[%s] %s\n", strings.ToUpper(channel), data)
		}
	}

	fmt.Printf("bytes=%d frames=%d keep_alives=%d parse_errors=%d dropped=%d\n",
		dec.Consumed(), frames, keepAlives, parseErrors, dropped)
	stats := buffer.Stats()
	for _, name := range buffer.Names() {
		fmt.Printf("  %-8s %d\n", name, stats[name].Appended)
	}
}
