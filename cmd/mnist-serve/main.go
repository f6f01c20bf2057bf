// Command mnist-serve answers prediction requests with the latest
// checkpoint from a model directory.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/born-ml/mnist-estimator/internal/estimator"
	"github.com/born-ml/mnist-estimator/internal/serving"
)

func main() {
	modelDir := flag.String("model-directory", "/tmp/mnisttraining", "Directory holding checkpoint.born")
	addr := flag.String("addr", ":8501", "Listen address")
	flag.Parse()

	dir, err := estimator.ExpandHome(*modelDir)
	if err != nil {
		log.Fatalf("Bad model directory: %v", err)
	}
	server, err := serving.NewServer(dir, nil)
	if err != nil {
		log.Fatalf("Failed to load model: %v", err)
	}

	httpServer := &http.Server{
		Addr:              *addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	log.Printf("Serving %s on %s", serving.ModelName, *addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server failed: %v", err)
	}
}
