package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/arlobrandt/shelfmerge/internal/config"
	"github.com/arlobrandt/shelfmerge/internal/merge"
	"github.com/arlobrandt/shelfmerge/internal/trace"
	"github.com/spf13/cobra"
)

var mergeCmd = &cobra.Command{
	Use:   "merge OUT SRC1 SRC2 [SRC3...]",
	Short: "Merge two or more backup archives into OUT",
	Long: `Merge reads two or more backup archives, collapses duplicate rows by
semantic identity, rewrites foreign keys to stay internally consistent, and
writes the result to OUT. Use --dry-run to validate and print a report
without writing the output archive.`,
	Args: cobra.MinimumNArgs(3),
	RunE: runMerge,
}

var (
	mergeInclude   string
	mergeSizeLimit int
	mergeReport    string
	mergeDryRun    bool
)

func init() {
	rootCmd.AddCommand(mergeCmd)

	mergeCmd.Flags().StringVar(&mergeInclude, "include", "", "Comma-separated data types to merge (notes,bookmarks,highlights,tags,inputfields,playlists); default all")
	mergeCmd.Flags().IntVar(&mergeSizeLimit, "size-limit-mb", 0, "Reject input larger than this many MiB (0 = use config default)")
	mergeCmd.Flags().StringVar(&mergeReport, "report", "", "Write the JSON validation report to this path")
	mergeCmd.Flags().BoolVar(&mergeDryRun, "dry-run", false, "Run the full pipeline without writing the output archive")
}

func runMerge(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	outPath := args[0]
	srcPaths := args[1:]

	sources := make([][]byte, len(srcPaths))
	for i, path := range srcPaths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		sources[i] = data
	}

	inc, err := parseInclude(mergeInclude)
	if err != nil {
		return err
	}

	sizeLimit := cfg.SizeLimitBytes()
	if mergeSizeLimit > 0 {
		sizeLimit = int64(mergeSizeLimit) * 1024 * 1024
	}

	collector := &trace.Collector{}
	opts := merge.Options{
		Include:        inc,
		SizeLimitBytes: sizeLimit,
		Trace:          collector.Emit,
		Progress: func(message string, progress int) {
			fmt.Fprintf(cmd.ErrOrStderr(), "[%3d%%] %s\n", progress, message)
		},
	}

	result, err := merge.Run(context.Background(), sources, opts)
	if err != nil {
		return err
	}

	if mergeReport != "" {
		data, err := json.MarshalIndent(result.Validation, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
		if err := os.WriteFile(mergeReport, data, 0644); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Report written to %s\n", mergeReport)
	}

	if !mergeDryRun {
		if err := os.WriteFile(outPath, result.Archive, 0644); err != nil {
			return fmt.Errorf("failed to write output archive: %w", err)
		}
	}

	printMergeSummary(cmd, outPath, result, mergeDryRun)
	return nil
}

func printMergeSummary(cmd *cobra.Command, outPath string, result merge.Result, dryRun bool) {
	out := cmd.OutOrStdout()
	if dryRun {
		fmt.Fprintln(out, "Mode: dry-run (no archive written)")
	} else {
		fmt.Fprintf(out, "Wrote %s\n", outPath)
	}
	fmt.Fprintf(out, "Run: %s\n", result.RunID)
	fmt.Fprintf(out, "Suggested filename: %s\n", result.Filename)

	v := result.Validation
	fmt.Fprintf(out, "Orphaned marks: %d, orphaned notes: %d, duplicate locations: %d\n",
		v.OrphanedMarks, v.OrphanedNotes, v.DuplicateLocations)
	for _, table := range []string{"Location", "Tag", "Mark", "Item", "Bookmark", "Note"} {
		if n, ok := v.RowCounts[table]; ok {
			fmt.Fprintf(out, "  %s: %d rows\n", table, n)
		}
	}
}

var allDataTypes = []string{"notes", "bookmarks", "highlights", "tags", "inputfields", "playlists"}

func parseInclude(flag string) (merge.Include, error) {
	if strings.TrimSpace(flag) == "" {
		return merge.DefaultInclude(), nil
	}

	enabled := make(map[string]bool)
	for _, name := range strings.Split(flag, ",") {
		name = strings.TrimSpace(strings.ToLower(name))
		if name == "" {
			continue
		}
		if !isKnownDataType(name) {
			return merge.Include{}, fmt.Errorf("unknown data type %q in --include (want one of %s)", name, strings.Join(allDataTypes, ", "))
		}
		enabled[name] = true
	}

	return merge.Include{
		Notes:       enabled["notes"],
		Bookmarks:   enabled["bookmarks"],
		Highlights:  enabled["highlights"],
		Tags:        enabled["tags"],
		InputFields: enabled["inputfields"],
		Playlists:   enabled["playlists"],
	}, nil
}

func isKnownDataType(name string) bool {
	for _, t := range allDataTypes {
		if t == name {
			return true
		}
	}
	return false
}
