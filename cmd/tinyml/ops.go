package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/go-tinyml-audio/internal/model"
	"github.com/example/go-tinyml-audio/internal/opset"
)

func newOpsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ops",
		Short: "List the registered operation kinds and the model's requirements",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			mcfg := model.Default()
			ops := opset.NewSet(opset.Default())
			w := cmd.OutOrStdout()

			fmt.Fprintf(w, "registered operations: %d of %d slots\n", ops.Len(), mcfg.MaxOps)
			for _, k := range ops.Kinds() {
				fmt.Fprintf(w, "  %s\n", k)
			}

			if _, statErr := os.Stat(cfg.Paths.ManifestPath); statErr != nil {
				fmt.Fprintf(w, "model: no manifest at %s\n", cfg.Paths.ManifestPath)
				return nil
			}

			m, err := model.LoadManifest(cfg.Paths.ManifestPath)
			if err != nil {
				return err
			}
			required, err := m.RequiredOps()
			if err != nil {
				return err
			}

			fmt.Fprintf(w, "model %s requires: %s\n", m.Name, opset.Join(required))
			if missing := ops.Missing(required); len(missing) > 0 {
				return fmt.Errorf("missing operation(s): %s", opset.Join(missing))
			}
			return nil
		},
	}

	return cmd
}
