package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/MarkoPoloResearchLab/berth/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	flagListenAddr         = "listen-addr"
	flagHealthAddr         = "health-addr"
	flagDatabaseURL        = "database-url"
	flagAllowedOrigins     = "allowed-origins"
	flagJWTSigningKey      = "jwt-signing-key"
	flagJWTIssuer          = "jwt-issuer"
	flagJWTCookieName      = "jwt-cookie-name"
	flagTimezone           = "timezone"
	flagRequestTimeout     = "request-timeout"
	flagClaimTimeout       = "claim-timeout"
	flagHealthPollInterval = "health-poll-interval"
	flagCalendarHorizon    = "calendar-horizon"
	flagDebug              = "debug"
	flagServerURL          = "server-url"
	flagSessionToken       = "session-token"
	envPrefix              = "BERTH"
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "berth: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "berth",
		Short:         "Marina marketplace reservations and auctions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().Bool(flagDebug, false, "enable development logging")
	cmd.AddCommand(
		newServeCommand(),
		newMigrateCommand(),
		newSeedCommand(),
		newOrphansCommand(),
		newCloseCommand(),
		newWatchCommand(),
		newBidCommand(),
		newSlotsCommand(),
	)
	return cmd
}

// newViper binds every flag of cmd to BERTH_<FLAG> environment variables.
func newViper(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var bindErr error
	cmd.Flags().VisitAll(func(flag *pflag.Flag) {
		if bindErr != nil {
			return
		}
		bindErr = v.BindPFlag(flag.Name, flag)
	})
	if bindErr != nil {
		return nil, bindErr
	}
	return v, nil
}

func addDatabaseFlags(cmd *cobra.Command) {
	cmd.Flags().String(flagDatabaseURL, "", "database URL (postgres://... or sqlite://path)")
	cmd.Flags().String(flagTimezone, "", "marina time zone, e.g. Europe/Lisbon")
}

func addServerFlags(cmd *cobra.Command) {
	addDatabaseFlags(cmd)
	cmd.Flags().String(flagListenAddr, "", "HTTP listen address")
	cmd.Flags().String(flagHealthAddr, "", "gRPC health listen address")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	cmd.Flags().String(flagJWTSigningKey, "", "TAuth JWT signing key (required)")
	cmd.Flags().String(flagJWTIssuer, "", "expected JWT issuer")
	cmd.Flags().String(flagJWTCookieName, "", "JWT cookie name")
	cmd.Flags().Duration(flagRequestTimeout, 0, "per-request timeout (e.g. 3s)")
	cmd.Flags().Duration(flagClaimTimeout, 0, "bound on the claim step of a reservation")
	cmd.Flags().Duration(flagHealthPollInterval, 0, "database health poll interval")
	cmd.Flags().Int(flagCalendarHorizon, 0, "default calendar horizon in days")
}

// loadConfig reads the server configuration. requireSession is false for
// commands that only touch the database.
func loadConfig(cmd *cobra.Command, cfg *config.Config, requireSession bool) error {
	v, err := newViper(cmd)
	if err != nil {
		return err
	}

	cfg.DatabaseURL = strings.TrimSpace(v.GetString(flagDatabaseURL))
	cfg.Timezone = strings.TrimSpace(v.GetString(flagTimezone))
	cfg.Debug = v.GetBool(flagDebug)
	cfg.ListenAddr = strings.TrimSpace(v.GetString(flagListenAddr))
	cfg.HealthAddr = strings.TrimSpace(v.GetString(flagHealthAddr))
	cfg.AllowedOrigins = config.ParseAllowedOrigins(v.GetString(flagAllowedOrigins))
	cfg.SessionSigningKey = v.GetString(flagJWTSigningKey)
	cfg.SessionIssuer = strings.TrimSpace(v.GetString(flagJWTIssuer))
	cfg.SessionCookieName = strings.TrimSpace(v.GetString(flagJWTCookieName))
	cfg.RequestTimeout = v.GetDuration(flagRequestTimeout)
	cfg.ClaimTimeout = v.GetDuration(flagClaimTimeout)
	cfg.HealthPollInterval = v.GetDuration(flagHealthPollInterval)
	cfg.CalendarHorizon = v.GetInt(flagCalendarHorizon)

	if !requireSession && cfg.SessionSigningKey == "" {
		// Database-only commands never validate sessions.
		cfg.SessionSigningKey = "unused"
	}
	return cfg.Validate()
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
