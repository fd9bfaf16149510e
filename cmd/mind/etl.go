package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mind/pkg/config"
	"mind/pkg/etl"
	"mind/pkg/graph"
)

func etlCommands() []*cobra.Command {
	var (
		templatePath   string
		processes      string
		transferScript string
	)
	radiologyCmd := &cobra.Command{
		Use:   "radiology-proxy",
		Short: "Transfer, parse and register a landed DICOM dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Load(config.DataConfig, templatePath, ""); err != nil {
				return err
			}
			selected := etl.ParseProcesses(processes)

			ctx, stop := signalContext()
			defer stop()

			var q graph.Querier
			for _, p := range selected {
				if p == etl.ProcessGraph || p == etl.ProcessAll {
					conn, err := connectGraph(ctx)
					if err != nil {
						return err
					}
					defer conn.Close(ctx)
					q = conn
					break
				}
			}

			proxy := etl.NewRadiologyProxy(cfg, templatePath, q, logger)
			if transferScript != "" {
				proxy.TransferScript = transferScript
			}
			return proxy.Run(ctx, selected)
		},
	}
	radiologyCmd.Flags().StringVarP(&templatePath, "data_config_file", "t", "", "dataset template (DATA_CFG)")
	radiologyCmd.Flags().StringVarP(&processes, "process_string", "p", etl.ProcessAll, "comma separated processes: transfer, delta, graph or all")
	radiologyCmd.Flags().StringVar(&transferScript, "transfer-script", "", "override the transfer script")
	_ = radiologyCmd.MarkFlagRequired("data_config_file")

	var clinicalConfig string
	clinicalCmd := &cobra.Command{
		Use:   "clinical-proxy",
		Short: "Convert a clinical CSV or TSV file into a proxy table",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireAppConfig(); err != nil {
				return err
			}
			if err := cfg.Load(config.DataConfig, clinicalConfig, ""); err != nil {
				return err
			}
			path, err := etl.ClinicalProxy(cfg, appConfigPath, clinicalConfig, logger)
			if err != nil {
				return err
			}
			fmt.Printf("Table written to %s\n", path)
			return nil
		},
	}
	clinicalCmd.Flags().StringVarP(&clinicalConfig, "data_config_file", "d", "", "table config (DATA_CFG)")
	_ = clinicalCmd.MarkFlagRequired("data_config_file")

	var unpackConfig string
	unpackCmd := &cobra.Command{
		Use:   "unpack-features",
		Short: "Write the image column of a feature table as PNG files",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Load(config.DataConfig, unpackConfig, ""); err != nil {
				return err
			}
			n, err := etl.UnpackFeatures(cfg, logger)
			if err != nil {
				return err
			}
			logger.Info("Unpack finished", zap.Int("images", n))
			return nil
		},
	}
	unpackCmd.Flags().StringVarP(&unpackConfig, "data_config_file", "d", "", "feature table config (DATA_CFG)")
	_ = unpackCmd.MarkFlagRequired("data_config_file")

	return []*cobra.Command{radiologyCmd, clinicalCmd, unpackCmd}
}
