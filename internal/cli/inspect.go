package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/xrpool/governor/internal/config"
	"github.com/xrpool/governor/internal/engine"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <pool-id>",
	Short: "Show a pool's configuration, contents, and health",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

func runInspect(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	eng := engine.New(db, cfg)
	info, err := eng.Inspect("operator", args[0])
	if err != nil {
		return err
	}

	p := info.Pool
	fmt.Printf("pool: %s (%s, scope %s)\n", p.Name, p.PoolID, p.Scope)
	fmt.Printf("  weights: rep=%.2f val=%.2f out=%.2f rec=%.2f con=%.2f\n",
		p.WeightReputation, p.WeightValidation, p.WeightOutcome,
		p.WeightRecency, p.WeightConsistency)
	fmt.Printf("  decay %.4f/day  min confidence %.2f  quorum %d\n",
		p.DecayRate, p.MinConfidence, p.ConfirmQuorum)

	s := info.Stats
	fmt.Printf("artifacts: %d from %d agents, avg composite %.4f\n",
		s.Total, s.Agents, s.AvgComposite)
	for status, n := range s.ByStatus {
		fmt.Printf("  %-12s %d\n", status, n)
	}
	if s.LastDeposited > 0 {
		fmt.Printf("  last deposit %s\n", time.UnixMilli(s.LastDeposited).Format(time.RFC3339))
	}

	fmt.Printf("audit: %d entries\n", info.AuditLength)
	for _, group := range info.CollusionGroups {
		fmt.Printf("correlated validators: %v\n", group)
	}
	return nil
}

var poolsCmd = &cobra.Command{
	Use:   "pools",
	Short: "List pools",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		pools, err := db.ListPools()
		if err != nil {
			return err
		}
		for _, p := range pools {
			fmt.Printf("%s  %-20s  scope=%s\n", p.PoolID, p.Name, p.Scope)
		}
		return nil
	},
}
