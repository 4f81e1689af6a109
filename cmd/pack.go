package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/greenharbor/nursery-dispatch/config"
	"github.com/greenharbor/nursery-dispatch/core/model"
	"github.com/greenharbor/nursery-dispatch/core/packing"
)

var (
	packQuantity int
	packCavity   string
)

var packCmd = &cobra.Command{
	Use:   "pack",
	Short: "Compute a crate manifest for a quantity without touching any ledger",
	RunE:  runPack,
}

func init() {
	packCmd.Flags().IntVarP(&packQuantity, "quantity", "q", 0, "plant quantity to pack")
	packCmd.Flags().StringVar(&packCavity, "cavity", "", "cavity type id")
	rootCmd.AddCommand(packCmd)
}

func runPack(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	types := make([]model.CavityType, 0, len(cfg.Catalog.Cavities))
	for _, c := range cfg.Catalog.Cavities {
		types = append(types, model.CavityType{ID: c.ID, CavitySize: c.CavitySize, NumberPerCrate: c.NumberPerCrate})
	}
	table, err := model.NewCavityTable(types...)
	if err != nil {
		return err
	}
	cavity, ok := table.Lookup(packCavity)
	if !ok {
		return fmt.Errorf("unknown cavity type %q", packCavity)
	}
	group, err := packing.Pack(packQuantity, cavity)
	if err != nil {
		return err
	}
	cmd.Printf("cavity %s: %d plants in %d crates\n", group.CavityID, group.PlantCount, group.CrateCount)
	for _, d := range group.Details {
		cmd.Printf("  %d crate(s) holding %d plants\n", d.CrateCount, d.PlantCount)
	}
	return nil
}
