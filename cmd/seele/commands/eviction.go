package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Candlest/seele/internal/config"
	"github.com/Candlest/seele/internal/eviction"
)

// NewEvictionCommand builds the `eviction` command group.
func NewEvictionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eviction",
		Short: "Inspect the submission and image eviction managers' persisted state",
	}

	cmd.AddCommand(newEvictionStatusCommand())

	return cmd
}

func newEvictionStatusCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the tracked paths and counts for both eviction managers",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runEvictionStatus(configPath)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to the judge config file")

	return cmd
}

func runEvictionStatus(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	statesDir := filepath.Join(cfg.Paths.Root, cfg.Paths.States)
	evictedDir := filepath.Join(cfg.Paths.Root, cfg.Paths.Evicted)

	submissionMgr, err := eviction.NewManager(
		"submission_eviction",
		cfg.Eviction.Submissions.Interval, cfg.Eviction.Submissions.TTL, cfg.Eviction.Submissions.Capacity,
		statesDir, evictedDir,
	)
	if err != nil {
		return fmt.Errorf("load submission eviction state: %w", err)
	}

	imageMgr, err := eviction.NewManager(
		"image_eviction",
		cfg.Eviction.Images.Interval, cfg.Eviction.Images.TTL, cfg.Eviction.Images.Capacity,
		statesDir, evictedDir,
	)
	if err != nil {
		return fmt.Errorf("load image eviction state: %w", err)
	}

	printManagerTable("submission_eviction", submissionMgr, cfg.Eviction.Submissions)
	printManagerTable("image_eviction", imageMgr, cfg.Eviction.Images)

	return nil
}

func printManagerTable(name string, mgr *eviction.Manager, cfg config.EvictionManagerConfig) {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(os.Stdout)
	tbl.SetTitle(name)
	tbl.AppendHeader(table.Row{"Path", "TTL", "Capacity"})

	for _, path := range mgr.TrackedPaths() {
		tbl.AppendRow(table.Row{path, cfg.TTL, humanize.Comma(int64(cfg.Capacity))})
	}

	tbl.AppendFooter(table.Row{"tracked", humanize.Comma(int64(mgr.Len())), ""})
	tbl.Render()
}
