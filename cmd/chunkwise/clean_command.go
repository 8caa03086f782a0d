package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"chunkwise/internal/fileutil"
	"chunkwise/internal/resume"
)

func newCleanCommand(ctx *commandContext) *cobra.Command {
	var target tempDirFlags

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove the temp directory of a run",
		Long: "Remove a run's temp directory, discarding its chunk artifacts and run state.\n" +
			"Refuses while an encode holds the directory lock.",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := target.resolve(ctx.configValue())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			info, err := os.Stat(dir)
			if errors.Is(err, os.ErrNotExist) {
				fmt.Fprintf(out, "Nothing to clean at %s\n", dir)
				return nil
			}
			if err != nil {
				return fmt.Errorf("inspect temp directory: %w", err)
			}
			if !info.IsDir() || !isRunDir(dir) {
				return fmt.Errorf("%s does not look like a chunkwise temp directory", dir)
			}

			manager := resume.NewManager(resume.Options{Dir: dir})
			if err := manager.Lock(); err != nil {
				return err
			}
			size, _ := fileutil.DirSize(dir)
			if err := manager.Cleanup(); err != nil {
				return err
			}
			fmt.Fprintf(out, "Removed %s (%s freed)\n", dir, formatBytes(size))
			return nil
		},
	}
	target.register(cmd)
	return cmd
}

// isRunDir reports whether dir carries any of the files a run creates.
func isRunDir(dir string) bool {
	for _, name := range []string{resume.StateFileName, resume.LockFileName, resume.EncodeDirName} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}
