// Command mnist-estimator trains the MNIST digit classifier from TFRecord
// files and writes checkpoints and summaries into a model directory.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/born-ml/mnist-estimator/internal/estimator"
	"github.com/born-ml/mnist-estimator/internal/parallel"
)

func main() {
	cfg := estimator.DefaultRunConfig()
	flag.StringVar(&cfg.DataDirectory, "data-directory", cfg.DataDirectory, "Directory where TFRecords are stored")
	flag.StringVar(&cfg.ModelDirectory, "model-directory", cfg.ModelDirectory, "Directory where model summaries and checkpoints are stored")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("CPU: %s", parallel.Describe())
	if err := estimator.Run(ctx, cfg); err != nil {
		log.Fatalf("Training failed: %v", err)
	}
}
