package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/gulprep/internal/prep"
)

func newBuildCommand(a *app) *cobra.Command {
	var (
		req         prep.Request
		chunkSize   int
		workers     int
		inputsTable bool
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build GUL input files for one exposure and keys pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			pc := a.cfg.Prep
			if cmd.Flags().Changed("chunk-size") {
				pc.ChunkSize = chunkSize
			}
			if cmd.Flags().Changed("workers") {
				pc.MaxWorkers = workers
			}
			if cmd.Flags().Changed("write-inputs-table") {
				pc.WriteInputsTable = inputsTable
			}

			archive, closeArchive, err := a.openArchive(ctx)
			if err != nil {
				return err
			}
			defer closeArchive()

			var opts []prep.Option
			if archive != nil {
				opts = append(opts, prep.WithArchiver(archive))
			}

			svc, err := prep.NewService(pc, opts...)
			if err != nil {
				return err
			}

			res, err := svc.Run(ctx, req)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}

	cmd.Flags().StringVar(&req.ExposurePath, "exposure", "", "Exposure (location) CSV file")
	cmd.Flags().StringVar(&req.KeysPath, "keys", "", "Lookup keys CSV file")
	cmd.Flags().StringVar(&req.ProfilePath, "profile", "", "Exposure profile JSON (defaults to PREP_PROFILE_PATH or the built-in OED profile)")
	cmd.Flags().StringVar(&req.TargetDir, "target-dir", "", "Output directory (defaults to PREP_TARGET_DIR)")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "Rows written per chunk")
	cmd.Flags().IntVar(&workers, "workers", 0, "Parallel table writers; 0 uses the CPU count")
	cmd.Flags().BoolVar(&inputsTable, "write-inputs-table", false, "Also write gul_inputs.csv")
	_ = cmd.MarkFlagRequired("exposure")
	_ = cmd.MarkFlagRequired("keys")
	return cmd
}
