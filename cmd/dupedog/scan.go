package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/ivoronin/dupedog/internal/cache"
	"github.com/ivoronin/dupedog/internal/dlog"
	"github.com/ivoronin/dupedog/internal/pipeline"
	"github.com/ivoronin/dupedog/internal/runconfig"
	"github.com/ivoronin/dupedog/internal/session"
	"github.com/spf13/cobra"
)

// scanOptions holds CLI flags for the read-only scan command.
type scanOptions struct {
	referenceRoots        []string
	minSizeStr            string
	excludes              []string
	workers               int
	noProgress            bool
	exactDuplicates       bool
	similarImages         bool
	similarDocuments      bool
	similarityThreshold   int
	paranoid              bool
	trustDeviceBoundaries bool
	cacheFile             string
	outputFile            string
}

// newScanCmd creates the scan subcommand: a read-only detection run that
// emits a session payload instead of modifying the filesystem.
func newScanCmd() *cobra.Command {
	opts := &scanOptions{
		minSizeStr:          "1",
		workers:             runtime.NumCPU(),
		exactDuplicates:     true,
		similarityThreshold: 8,
	}

	cmd := &cobra.Command{
		Use:   "scan [paths...]",
		Short: "Detect duplicates and similar files without modifying anything",
		Long: `Scans for exact duplicates and, optionally, visually or textually similar
files, and writes a session payload describing what was found.

The session payload is content-addressed (see internal/session) so a
downstream tool can detect a truncated or hand-edited file before acting
on it. Use --output to write to a file instead of stdout.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runScan(args, opts)
		},
	}

	cmd.Flags().StringSliceVar(&opts.referenceRoots, "reference", nil,
		"Reference root(s) whose files are never reported as the deletable half of a pair")
	cmd.Flags().StringVarP(&opts.minSizeStr, "min-size", "m", opts.minSizeStr, "Minimum file size (e.g., 100, 1K, 10M, 1G)")
	cmd.Flags().StringSliceVarP(&opts.excludes, "exclude", "e", nil, "Glob patterns to exclude")
	cmd.Flags().IntVarP(&opts.workers, "workers", "w", opts.workers, "Number of parallel workers")
	cmd.Flags().BoolVar(&opts.noProgress, "no-progress", false, "Disable progress output")
	cmd.Flags().BoolVar(&opts.exactDuplicates, "exact", opts.exactDuplicates, "Detect exact content duplicates")
	cmd.Flags().BoolVar(&opts.similarImages, "similar-images", false, "Cluster visually similar images")
	cmd.Flags().BoolVar(&opts.similarDocuments, "similar-documents", false, "Cluster textually similar documents")
	cmd.Flags().IntVar(&opts.similarityThreshold, "similarity-threshold", opts.similarityThreshold,
		"Maximum Hamming distance (0-64) for two fingerprints to cluster together")
	cmd.Flags().BoolVar(&opts.paranoid, "paranoid", false, "Byte-compare files after a matching digest, before reporting them as duplicates")
	cmd.Flags().BoolVar(&opts.trustDeviceBoundaries, "trust-device-boundaries", false,
		"Assume devices have independent inode spaces. WARNING: Unsafe if the same filesystem is mounted at multiple paths (e.g., NFS)")
	cmd.Flags().StringVar(&opts.cacheFile, "cache-file", "", "Path to hash/fingerprint cache file (enables caching)")
	cmd.Flags().StringVarP(&opts.outputFile, "output", "o", "", "Write the session payload here instead of stdout")

	return cmd
}

// runScan builds a runconfig.Config from CLI flags, runs the detection
// pipeline, and writes the resulting session payload.
func runScan(paths []string, opts *scanOptions) error {
	minSize, err := parseSize(opts.minSizeStr)
	if err != nil {
		return fmt.Errorf("invalid --min-size: %w", err)
	}
	if err := validateGlobPatterns(opts.excludes); err != nil {
		return fmt.Errorf("invalid --exclude: %w", err)
	}

	cfg := runconfig.Default()
	cfg.Roots = paths
	cfg.ReferenceRoots = opts.referenceRoots
	cfg.Filter.MinSize = minSize
	cfg.Filter.ExcludeGlobs = opts.excludes
	cfg.ExactDuplicates = opts.exactDuplicates
	cfg.SimilarImages = opts.similarImages
	cfg.SimilarDocuments = opts.similarDocuments
	cfg.SimilarityThreshold = opts.similarityThreshold
	cfg.Paranoid = opts.paranoid
	cfg.TrustDeviceBoundaries = opts.trustDeviceBoundaries
	cfg.CachePath = opts.cacheFile
	cfg.Workers = opts.workers
	cfg.ShowProgress = !opts.noProgress

	filter, err := cfg.Validate()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	hashCache, err := cache.Open(cfg.CachePath)
	if err != nil {
		dlog.Warn("cache unavailable, continuing without it", "path", cfg.CachePath, "error", err)
		hashCache, _ = cache.Open("")
	}
	defer func() { _ = hashCache.Close() }()

	errors := make(chan error, 100)
	go drainErrors(errors)
	defer close(errors)

	p := pipeline.New(cfg, filter, hashCache, errors)
	result, err := p.Run(context.Background())
	if err != nil {
		return fmt.Errorf("run pipeline: %w", err)
	}

	sess, err := session.Build(version, time.Now(), cfg.Roots, cfg.ReferenceRoots, cfg.Filter,
		result.Duplicates, result.Similarities)
	if err != nil {
		return fmt.Errorf("build session: %w", err)
	}

	return writeSession(sess, opts.outputFile)
}

func writeSession(sess session.Session, outputFile string) error {
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	data = append(data, '\n')

	if outputFile == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(outputFile, data, 0o644)
}
