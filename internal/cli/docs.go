package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"campusbot/internal/usecase"
)

var (
	docsSyncForce bool
	docsListJSON  bool
)

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Manage the indexed documents",
	Long: `Add, remove and re-index the documents the assistant searches.
Documents live in the configured documents directory; files added from
elsewhere are copied into it.

Examples:
  campusbot docs sync                          # Index new files, drop removed ones
  campusbot docs add ~/Downloads/CN_2023.pdf   # Copy and index a file
  campusbot docs delete CN_2023.pdf            # Remove a file and its entry
  campusbot docs update CN_2023.pdf CN_v2.pdf  # Replace a file`,
}

var docsAddCmd = &cobra.Command{
	Use:   "add <file>...",
	Short: "Copy files into the documents directory and index them",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runDocsAdd,
}

var docsDeleteCmd = &cobra.Command{
	Use:   "delete <name>...",
	Short: "Delete documents and remove them from the index",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runDocsDelete,
}

var docsUpdateCmd = &cobra.Command{
	Use:   "update <name> <new-file>",
	Short: "Replace a document with a new file and re-index it",
	Args:  cobra.ExactArgs(2),
	RunE:  runDocsUpdate,
}

var docsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List document files and whether they are indexed",
	Args:  cobra.NoArgs,
	RunE:  runDocsList,
}

var docsSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Index new documents and drop entries whose file is gone",
	Args:  cobra.NoArgs,
	RunE:  runDocsSync,
}

func init() {
	rootCmd.AddCommand(docsCmd)
	docsCmd.AddCommand(docsAddCmd, docsDeleteCmd, docsUpdateCmd, docsListCmd, docsSyncCmd)
	docsSyncCmd.Flags().BoolVar(&docsSyncForce, "force", false, "re-extract files that are already indexed")
	docsListCmd.Flags().BoolVar(&docsListJSON, "json", false, "output as JSON")
}

func runDocsAdd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	for _, src := range args {
		dst, ok, err := a.library.Import(ctx, a.docsDir, src)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Printf("No text extracted from %s, not indexed\n", src)
			continue
		}
		fmt.Printf("Indexed %s\n", relTo(a.docsDir, dst))
	}
	return nil
}

func runDocsDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	for _, name := range args {
		ok, err := a.library.Remove(ctx, a.docsDir, name)
		if err != nil {
			return err
		}
		if ok {
			fmt.Printf("Deleted %s\n", name)
		} else {
			fmt.Printf("%s was not indexed\n", name)
		}
	}
	return nil
}

func runDocsUpdate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	newPath, ok, err := a.library.Replace(ctx, a.docsDir, args[0], args[1])
	if err != nil {
		return err
	}
	if !ok {
		fmt.Printf("No text extracted from %s, not indexed\n", args[1])
		return nil
	}
	fmt.Printf("Updated %s to %s\n", args[0], relTo(a.docsDir, newPath))
	return nil
}

type docEntry struct {
	Name    string `json:"name"`
	Size    int64  `json:"size"`
	Indexed bool   `json:"indexed"`
}

func runDocsList(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	files, err := a.library.Files(a.docsDir)
	if err != nil {
		return err
	}
	entries := make([]docEntry, 0, len(files))
	for _, f := range files {
		entries = append(entries, docEntry{Name: f.Name, Size: f.Size, Indexed: a.store.Has(usecase.DocID(f.Path))})
	}

	if docsListJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	for _, e := range entries {
		mark := color.YellowString("-")
		if e.Indexed {
			mark = color.GreenString("*")
		}
		fmt.Printf("%s %s (%d bytes)\n", mark, e.Name, e.Size)
	}
	st := a.store.Stats()
	fmt.Printf("\n%d files, %d indexed (%s, %s, dim %d)\n", len(entries), st.Documents, st.Model, st.Metric, st.Dimension)
	return nil
}

func runDocsSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Printf("Scanning %s...\n", a.docsDir)

	var bar *progressbar.ProgressBar
	var barMu sync.Mutex
	var startTime time.Time

	progress := func(done, total int) {
		barMu.Lock()
		defer barMu.Unlock()

		if bar == nil {
			startTime = time.Now()
			bar = progressbar.NewOptions(total,
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionShowBytes(false),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionSetDescription("[cyan]Indexing[reset]"),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "[green]=[reset]",
					SaucerHead:    "[green]>[reset]",
					SaucerPadding: " ",
					BarStart:      "[",
					BarEnd:        "]",
				}),
				progressbar.OptionOnCompletion(func() {
					fmt.Println()
				}),
			)
		}

		bar.Set(done)

		if done > 0 {
			elapsed := time.Since(startTime)
			rate := float64(done) / elapsed.Seconds()
			if rate > 0 {
				eta := time.Duration(float64(total-done)/rate) * time.Second
				bar.Describe(fmt.Sprintf("[cyan]Indexing[reset] ETA: %s", formatDuration(eta)))
			}
		}
	}

	result, err := a.library.Sync(ctx, a.docsDir, usecase.SyncOptions{Force: docsSyncForce, Progress: progress})
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	fmt.Printf("\nSync complete:\n")
	fmt.Printf("  Files indexed:  %d\n", result.FilesIndexed)
	fmt.Printf("  Files skipped:  %d (already indexed)\n", result.FilesSkipped)
	fmt.Printf("  Files empty:    %d (no text)\n", result.FilesEmpty)
	fmt.Printf("  Files deleted:  %d (removed)\n", result.FilesDeleted)

	if len(result.Errors) > 0 {
		fmt.Printf("\nWarnings:\n")
		for _, e := range result.Errors {
			fmt.Printf("  - %s\n", e)
		}
	}

	fmt.Printf("\nVector store at: %s\n", a.cfg.VectorDir(GetRootDir()))
	return nil
}

func relTo(dir, path string) string {
	if rel, err := filepath.Rel(dir, path); err == nil {
		return filepath.ToSlash(rel)
	}
	return path
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}
