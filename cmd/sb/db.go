package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/zulandar/signalbox/internal/config"
	"github.com/zulandar/signalbox/internal/db"
	"github.com/zulandar/signalbox/internal/ledger"
	"github.com/zulandar/signalbox/internal/models"
	"gorm.io/gorm"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Sandbox ledger database commands",
	}

	cmd.AddCommand(newDBMigrateCmd())
	cmd.AddCommand(newDBSeedCmd())
	return cmd
}

func newDBMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the sandbox ledger tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			gormDB, err := db.Connect(cfg.Database)
			if err != nil {
				return err
			}
			if err := db.AutoMigrate(gormDB); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Migrated %d tables (%s)\n", len(db.AllModels()), cfg.Database.Driver)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Signalbox config file")
	return cmd
}

func newDBSeedCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load demo agents, proposals and accounts",
		Long:  "Seeds the sandbox ledger with demo agents, open DAO proposals and funded demo accounts (PIN 1234). Safe to run repeatedly.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			sb, gormDB, err := openSandbox(cfg)
			if err != nil {
				return err
			}
			return seedDemo(cmd.Context(), cmd.OutOrStdout(), cfg, sb, gormDB)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Signalbox config file")
	return cmd
}

// demoAccount is a funded account created by db seed.
type demoAccount struct {
	Phone   string
	Name    string
	Balance int64
	Sats    int64
}

// demoPIN is the PIN of every seeded account.
const demoPIN = "1234"

var (
	demoAgents = []struct {
		Code, Name, Phone, Location string
	}{
		{"AG001", "Kampala Central Agent", "256711000001", "Kampala"},
		{"AG002", "Wandegeya Mobile Money", "256711000002", "Kampala"},
		{"AG003", "Entebbe Road Agent", "256711000003", "Entebbe"},
		{"AG004", "Gulu Main Street Agent", "256711000004", "Gulu"},
	}

	demoProposals = []models.Proposal{
		{Title: "Lower agent withdrawal fees", Summary: "Cap agent commission at 1% for withdrawals below 50,000.", Open: true},
		{Title: "Add Kiswahili voice prompts", Summary: "Fund recorded prompts for callers who cannot read menus.", Open: true},
	}

	demoAccounts = []demoAccount{
		{Phone: "256700000001", Name: "Amina Nakato", Balance: 250_000, Sats: 50_000},
		{Phone: "256700000002", Name: "Okello James", Balance: 100_000},
	}
)

// seedDemo loads demo data. Existing rows are kept.
func seedDemo(ctx context.Context, out io.Writer, cfg *config.Config, sb *ledger.Sandbox, gormDB *gorm.DB) error {
	if ctx == nil {
		ctx = context.Background()
	}
	refs := ledger.NewRefDeriver(cfg.USSD.AccountKey)
	currency := cfg.USSD.DefaultCurrency

	agents := make([]models.Agent, 0, len(demoAgents))
	for _, a := range demoAgents {
		ref := refs.Ref(a.Phone)
		if _, err := register(ctx, sb, ref, a.Phone, a.Name); err != nil {
			return err
		}
		agents = append(agents, models.Agent{Code: a.Code, Name: a.Name, Phone: a.Phone, Location: a.Location, Ref: ref, Active: true})
	}
	if err := db.SeedAgents(gormDB, agents); err != nil {
		return err
	}
	fmt.Fprintf(out, "Seeded %d agents\n", len(agents))

	if err := db.SeedProposals(gormDB, demoProposals); err != nil {
		return err
	}
	fmt.Fprintf(out, "Seeded %d proposals\n", len(demoProposals))

	for _, a := range demoAccounts {
		ref := refs.Ref(a.Phone)
		created, err := register(ctx, sb, ref, a.Phone, a.Name)
		if err != nil {
			return err
		}
		if !created {
			fmt.Fprintf(out, "Account +%s already exists\n", a.Phone)
			continue
		}
		if err := sb.Credit(ctx, ref, a.Balance, currency); err != nil {
			return err
		}
		if a.Sats > 0 {
			if err := sb.CreditSats(ctx, ref, a.Sats); err != nil {
				return err
			}
		}
		fmt.Fprintf(out, "Account +%s (%s) funded with %d %s\n", a.Phone, a.Name, a.Balance, currency)
	}
	return nil
}

// register creates an account with the demo PIN and reports whether it
// was new.
func register(ctx context.Context, sb *ledger.Sandbox, ref, phone, name string) (bool, error) {
	err := sb.Register(ctx, ref, phone, name, demoPIN)
	if errors.Is(err, ledger.ErrAlreadyRegistered) {
		return false, nil
	}
	return err == nil, err
}
