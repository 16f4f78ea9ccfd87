package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	marketv1 "github.com/MarkoPoloResearchLab/berth/api/market/v1"
	"github.com/MarkoPoloResearchLab/berth/pkg/client"
	"github.com/MarkoPoloResearchLab/berth/pkg/market"
	"github.com/MarkoPoloResearchLab/berth/pkg/poller"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	flagInterval = "interval"
	flagUser     = "user"
	flagDate     = "date"
	flagUnits    = "units"
	flagDays     = "days"

	defaultServerURL = "http://localhost:9090"
)

type remoteConfig struct {
	ServerURL    string
	SessionToken string
	CookieName   string
	Location     *time.Location
	Debug        bool
}

func addRemoteFlags(cmd *cobra.Command) {
	cmd.Flags().String(flagServerURL, defaultServerURL, "berth API base URL")
	cmd.Flags().String(flagSessionToken, "", "TAuth session token (required)")
	cmd.Flags().String(flagJWTCookieName, "", "JWT cookie name")
	cmd.Flags().String(flagTimezone, "", "marina time zone, e.g. Europe/Lisbon")
}

func loadRemoteConfig(cmd *cobra.Command, cfg *remoteConfig) error {
	v, err := newViper(cmd)
	if err != nil {
		return err
	}
	cfg.ServerURL = strings.TrimSpace(v.GetString(flagServerURL))
	cfg.SessionToken = strings.TrimSpace(v.GetString(flagSessionToken))
	cfg.CookieName = strings.TrimSpace(v.GetString(flagJWTCookieName))
	cfg.Debug = v.GetBool(flagDebug)
	if cfg.ServerURL == "" {
		cfg.ServerURL = defaultServerURL
	}
	if cfg.SessionToken == "" {
		return fmt.Errorf("%s is required", flagSessionToken)
	}
	timezone := strings.TrimSpace(v.GetString(flagTimezone))
	if timezone == "" {
		timezone = "UTC"
	}
	location, err := time.LoadLocation(timezone)
	if err != nil {
		return fmt.Errorf("timezone %q: %w", timezone, err)
	}
	cfg.Location = location
	return nil
}

func (cfg remoteConfig) client() (*client.Client, error) {
	return client.New(cfg.ServerURL,
		client.WithSession(cfg.CookieName, cfg.SessionToken),
		client.WithLocation(cfg.Location),
	)
}

func newWatchCommand() *cobra.Command {
	cfg := remoteConfig{}
	cmd := &cobra.Command{
		Use:   "watch LISTING_ID",
		Short: "Poll a listing and print each fresh snapshot",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadRemoteConfig(cmd, &cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			listingID, err := market.NewListingID(args[0])
			if err != nil {
				return err
			}
			interval, _ := cmd.Flags().GetDuration(flagInterval)
			logger, err := newLogger(cfg.Debug)
			if err != nil {
				return fmt.Errorf("logger init: %w", err)
			}
			defer func() { _ = logger.Sync() }()
			apiClient, err := cfg.client()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return watchListing(ctx, cmd.OutOrStdout(), apiClient, listingID, interval, logger)
		},
	}
	addRemoteFlags(cmd)
	cmd.Flags().Duration(flagInterval, 5*time.Second, "poll interval")
	return cmd
}

// watchListing prints every snapshot the poller publishes until ctx ends.
func watchListing(ctx context.Context, out io.Writer, source market.ListingSource, listingID market.ListingID, interval time.Duration, logger *zap.Logger) error {
	fetch := func(ctx context.Context) (market.Listing, error) {
		return source.GetListing(ctx, listingID)
	}
	subscription, err := poller.Start(ctx, listingID.String(), interval, fetch, poller.WithLogger(logger))
	if err != nil {
		return err
	}
	defer subscription.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case snapshot, ok := <-subscription.Updates():
			if !ok {
				return nil
			}
			listing := snapshot.Value
			current := "none"
			if amount, has := listing.CurrentBidAmount(); has {
				current = amount.String()
			}
			fmt.Fprintf(out, "%s %s status=%s current_bid=%s floor=%s\n",
				snapshot.FetchedAt.Format(time.RFC3339), listing.ID, listing.Status, current, listing.MinBidFloor())
		}
	}
}

func newBidCommand() *cobra.Command {
	cfg := remoteConfig{}
	cmd := &cobra.Command{
		Use:   "bid LISTING_ID AMOUNT_MINOR",
		Short: "Place a bid through the API",
		Args:  cobra.ExactArgs(2),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadRemoteConfig(cmd, &cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			listingID, err := market.NewListingID(args[0])
			if err != nil {
				return err
			}
			var rawAmount int64
			if _, err := fmt.Sscan(args[1], &rawAmount); err != nil {
				return fmt.Errorf("amount %q: %w", args[1], market.ErrInvalidAmount)
			}
			amount, err := market.NewAmountMinor(rawAmount)
			if err != nil {
				return err
			}
			rawUser, _ := cmd.Flags().GetString(flagUser)
			bidderID, err := market.NewUserID(rawUser)
			if err != nil {
				return err
			}
			apiClient, err := cfg.client()
			if err != nil {
				return err
			}
			ledger, err := market.NewAuctionLedger(apiClient, time.Now)
			if err != nil {
				return err
			}
			outcome, err := ledger.PlaceBid(cmd.Context(), bidderID, listingID, amount)
			if err != nil {
				return err
			}
			if !outcome.Accepted() {
				fmt.Fprintf(cmd.OutOrStdout(), "rejected: %s (floor %s)\n", outcome.Evaluation.Reason, outcome.Evaluation.MinBidFloor)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "accepted: %s %s\n", outcome.Bid.ID, outcome.Bid.Amount)
			return nil
		},
	}
	addRemoteFlags(cmd)
	cmd.Flags().String(flagUser, "", "bidder user id matching the session (required)")
	_ = cmd.MarkFlagRequired(flagUser)
	return cmd
}

func newSlotsCommand() *cobra.Command {
	cfg := remoteConfig{}
	cmd := &cobra.Command{
		Use:   "slots LISTING_ID",
		Short: "Show the calendar, or the slots of one date",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadRemoteConfig(cmd, &cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			listingID, err := market.NewListingID(args[0])
			if err != nil {
				return err
			}
			apiClient, err := cfg.client()
			if err != nil {
				return err
			}
			availability, err := market.NewAvailability(apiClient, time.Now, cfg.Location)
			if err != nil {
				return err
			}
			rawDate, _ := cmd.Flags().GetString(flagDate)
			units, _ := cmd.Flags().GetInt(flagUnits)
			days, _ := cmd.Flags().GetInt(flagDays)
			out := cmd.OutOrStdout()

			if rawDate == "" {
				calendar, err := availability.Calendar(cmd.Context(), listingID, time.Now().In(cfg.Location), days)
				if err != nil {
					return err
				}
				for _, day := range calendar {
					if day.Available {
						fmt.Fprintf(out, "%s %s\n", day.Date.Format(marketv1.DateLayout), day.Weekday)
					}
				}
				return nil
			}

			date, err := marketv1.ParseDate(rawDate, cfg.Location)
			if err != nil {
				return err
			}
			day, err := availability.DaySlots(cmd.Context(), listingID, date, units)
			if err != nil {
				return err
			}
			writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(writer, "START\tREMAINING\tSELECTABLE\tBLOCK")
			for _, slot := range day.Slots {
				fmt.Fprintf(writer, "%s\t%d\t%t\t%s\n", slot.Start, slot.RemainingCapacity, slot.Selectable, slot.Block)
			}
			return writer.Flush()
		},
	}
	addRemoteFlags(cmd)
	cmd.Flags().String(flagDate, "", "date (YYYY-MM-DD); omit to list available dates")
	cmd.Flags().Int(flagUnits, 1, "units requested")
	cmd.Flags().Int(flagDays, 14, "calendar horizon in days")
	return cmd
}
