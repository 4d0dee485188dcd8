package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/xrpool/governor/internal/config"
	"github.com/xrpool/governor/internal/store"
)

var verifyCmd = &cobra.Command{
	Use:   "verify [pool-id]",
	Short: "Verify audit chain integrity (all pools when no id is given)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runVerify,
}

func runVerify(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	var pools []store.Pool
	if len(args) == 1 {
		p, err := db.GetPool(args[0])
		if err != nil {
			return err
		}
		if p == nil {
			return fmt.Errorf("pool %s not found", args[0])
		}
		pools = []store.Pool{*p}
	} else {
		pools, err = db.ListPools()
		if err != nil {
			return err
		}
	}

	corrupt := 0
	for _, p := range pools {
		bad, err := db.VerifyAuditChain(p.PoolID)
		if err != nil {
			return fmt.Errorf("verify %s: %w", p.PoolID, err)
		}
		n, _ := db.AuditLength(p.PoolID)
		if bad == 0 {
			fmt.Printf("%s  intact  (%d entries)\n", p.PoolID, n)
		} else {
			corrupt++
			fmt.Printf("%s  CORRUPT at seq %d  (%d entries)\n", p.PoolID, bad, n)
		}
	}
	if corrupt > 0 {
		os.Exit(1)
	}
	return nil
}

func openDB() (*store.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	path := cfg.Database.Path
	if path == "" {
		path, err = store.DefaultDBPath()
		if err != nil {
			return nil, err
		}
	}
	return store.Open(path)
}
