package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/MarkoPoloResearchLab/berth/internal/config"
	"github.com/MarkoPoloResearchLab/berth/internal/oplog"
	"github.com/MarkoPoloResearchLab/berth/internal/seed"
	"github.com/MarkoPoloResearchLab/berth/pkg/market"
	"github.com/spf13/cobra"
)

const (
	flagFile  = "file"
	flagLimit = "limit"
)

func newSeedCommand() *cobra.Command {
	cfg := config.Config{}
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load listings, availability rules and balances from a YAML fixture",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, &cfg, false)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString(flagFile)
			fixture, err := seed.LoadFile(path)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Debug)
			if err != nil {
				return fmt.Errorf("logger init: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			store, cleanup, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = cleanup() }()

			summary, err := seed.Apply(cmd.Context(), store, fixture, logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "listings=%d rules=%d blackouts=%d balances=%d skipped_balances=%d\n",
				summary.Listings, summary.Rules, summary.Blackouts, summary.Balances, summary.SkippedBalances)
			return nil
		},
	}
	addDatabaseFlags(cmd)
	cmd.Flags().String(flagFile, "", "YAML fixture path (required)")
	_ = cmd.MarkFlagRequired(flagFile)
	return cmd
}

func newOrphansCommand() *cobra.Command {
	cfg := config.Config{}
	cmd := &cobra.Command{
		Use:   "orphans",
		Short: "List charges whose claim could not be recorded",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, &cfg, false)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt(flagLimit)
			store, cleanup, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = cleanup() }()

			orphans, err := store.ListOrphanedCharges(cmd.Context(), limit)
			if err != nil {
				return err
			}
			writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(writer, "OCCURRED\tUSER\tLISTING\tUNITS\tCHARGED\tREFERENCE\tCAUSE")
			for _, orphan := range orphans {
				cause := ""
				if orphan.Cause != nil {
					cause = orphan.Cause.Error()
				}
				fmt.Fprintf(writer, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
					orphan.OccurredAt.In(cfg.Location()).Format(time.RFC3339),
					orphan.UserID, orphan.ListingID, orphan.Units, orphan.Charged, orphan.Reference, cause)
			}
			return writer.Flush()
		},
	}
	addDatabaseFlags(cmd)
	cmd.Flags().Int(flagLimit, 50, "maximum number of charges to list")
	return cmd
}

func newCloseCommand() *cobra.Command {
	cfg := config.Config{}
	cmd := &cobra.Command{
		Use:   "close LISTING_ID",
		Short: "Close bidding on a listing and mark it sold",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, &cfg, false)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			listingID, err := market.NewListingID(args[0])
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Debug)
			if err != nil {
				return fmt.Errorf("logger init: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			store, cleanup, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = cleanup() }()

			ledger, err := market.NewAuctionLedger(store, time.Now, market.WithOperationLogger(oplog.NewZapLogger(logger)))
			if err != nil {
				return err
			}
			listing, err := ledger.CloseAuction(cmd.Context(), listingID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s winning_bid=%s\n", listing.ID, listing.Status, listing.CurrentBid)
			return nil
		},
	}
	addDatabaseFlags(cmd)
	return cmd
}
