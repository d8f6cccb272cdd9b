// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/nishisan-dev/zarrstream/internal/config"
	"github.com/nishisan-dev/zarrstream/internal/logging"
	"github.com/nishisan-dev/zarrstream/internal/stream"
)

func main() {
	configPath := flag.String("config", "/etc/zarrstream/stream.yaml", "path to stream config file")
	arrayKey := flag.String("array", "", "array key frames on stdin are appended to (empty selects the base array)")
	customMetadataPath := flag.String("custom-metadata", "", "path to a JSON document written once as acquire.json")
	overwriteMetadata := flag.Bool("overwrite-metadata", false, "allow -custom-metadata to replace an existing acquire.json")
	flag.Parse()

	cfg, err := config.LoadStreamConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	defer logCloser.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, draining and closing store", "signal", sig)
		cancel()
	}()

	s, err := stream.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start stream", "error", err)
		os.Exit(1)
	}

	if *customMetadataPath != "" {
		doc, err := os.ReadFile(*customMetadataPath)
		if err != nil {
			logger.Error("failed to read custom metadata file", "path", *customMetadataPath, "error", err)
			os.Exit(1)
		}
		if err := s.WriteCustomMetadata(ctx, doc, *overwriteMetadata); err != nil {
			logger.Error("failed to write custom metadata", "error", err)
			os.Exit(1)
		}
	}

	if err := pump(ctx, s, *arrayKey, os.Stdin); err != nil {
		logger.Error("error reading frames from stdin", "error", err)
	}

	if err := s.Close(context.Background()); err != nil {
		logger.Error("error closing stream", "error", err)
		os.Exit(1)
	}
}

// pump copies raw frame bytes from r into the named array until EOF, a
// read error, or ctx is cancelled by a shutdown signal.
func pump(ctx context.Context, s *stream.Stream, arrayKey string, r io.Reader) error {
	buf := make([]byte, 1<<20)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := s.Append(ctx, arrayKey, buf[:n]); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
