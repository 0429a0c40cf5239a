// Command classify labels image files from the command line using the same
// model and preprocessing as the server.
//
//	classify [-config waste.yaml] [-json] photo.jpg other.png ...
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/Brownie44l1/waste-api/internal/app"
	"github.com/Brownie44l1/waste-api/internal/classifier"
	"github.com/Brownie44l1/waste-api/internal/config"
	"github.com/Brownie44l1/waste-api/internal/logger"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to a YAML config file")
	asJSON := flag.Bool("json", false, "print one JSON prediction per line")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] image...\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg.Log.File = ""
	cfg.Log.Level = "warn"
	zl, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zl.Sync()

	svc, err := app.NewService(cfg, zl, nil)
	if err != nil {
		log.Fatalf("Failed to initialize classifier: %v", err)
	}
	defer svc.Close()

	failed := classifyFiles(context.Background(), svc, flag.Args(), os.Stdout, *asJSON)
	if failed > 0 {
		svc.Close()
		os.Exit(1)
	}
}

// classifyFiles writes one line per path and returns how many failed.
func classifyFiles(ctx context.Context, c classifier.Classifier, paths []string, w io.Writer, asJSON bool) int {
	enc := json.NewEncoder(w)
	failed := 0
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			failed++
			report(w, enc, asJSON, path, err)
			continue
		}
		pred, err := c.Classify(ctx, filepath.Base(path), data)
		if err != nil {
			failed++
			report(w, enc, asJSON, path, err)
			continue
		}
		if asJSON {
			enc.Encode(pred)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%.3f\t%s\n", path, pred.Category, pred.Confidence, humanize.Bytes(uint64(len(data))))
	}
	return failed
}

func report(w io.Writer, enc *json.Encoder, asJSON bool, path string, err error) {
	if asJSON {
		enc.Encode(map[string]string{"filename": path, "error": err.Error()})
		return
	}
	fmt.Fprintf(w, "%s\terror: %v\n", path, err)
}
