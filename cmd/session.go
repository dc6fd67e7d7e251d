package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/bnema/bidbot/internal/application"
	"github.com/bnema/bidbot/internal/domain"
)

func newSessionCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage bidding sessions",
	}

	cmd.AddCommand(
		newSessionCreateCmd(app),
		newSessionListCmd(app),
		newSessionShowCmd(app),
		newSessionUpdateCmd(app),
		newSessionDeleteCmd(app),
		newSessionVerifyCmd(app),
	)

	return cmd
}

// sessionFlags binds the editable session fields. Only flags the user
// changed are applied on top of a base session.
type sessionFlags struct {
	name             string
	marketplaceToken string
	llmAPIKey        string
	autoStart        bool

	bidLimit          int
	searchLimit       int
	searchInterval    time.Duration
	minWaitTime       time.Duration
	contractType      string
	skillIDs          []int
	languageCodes     []string
	blockedCurrencies []string
	blockedCountries  []string
	minFixedBudget    float64
	sealBids          bool

	serviceOfferings string
	writingStyle     string
	portfolioLinks   string
	signature        string
}

var biddingFlagNames = []string{
	"bid-limit", "search-limit", "search-interval", "min-wait", "contract-type", "skills",
	"languages", "blocked-currencies", "blocked-countries", "min-fixed-budget", "seal-bids",
}

var preferenceFlagNames = []string{"service-offerings", "writing-style", "portfolio-links", "signature"}

func (f *sessionFlags) register(flags *pflag.FlagSet) {
	defaults := domain.DefaultBiddingConfig()

	flags.StringVar(&f.name, "name", "", "Session display name")
	flags.StringVar(&f.marketplaceToken, "marketplace-token", "", "Marketplace OAuth token (default $BIDBOT_MARKETPLACE_TOKEN)")
	flags.StringVar(&f.llmAPIKey, "llm-api-key", "", "Language model API key (default $BIDBOT_LLM_API_KEY)")
	flags.BoolVar(&f.autoStart, "autostart", false, "Start this session with bidbot serve")

	flags.IntVar(&f.bidLimit, "bid-limit", defaults.BidLimit, "Bids per run before the loop stops")
	flags.IntVar(&f.searchLimit, "search-limit", defaults.SearchLimit, "Projects fetched per poll")
	flags.DurationVar(&f.searchInterval, "search-interval", defaults.SearchInterval, "Pause between polls")
	flags.DurationVar(&f.minWaitTime, "min-wait", defaults.MinWaitTime, "Minimum project age before bidding, and minimum pause between polls")
	flags.StringVar(&f.contractType, "contract-type", string(defaults.ContractType), "Contract type (fixed|hourly)")
	flags.IntSliceVar(&f.skillIDs, "skills", nil, "Marketplace skill ids to search")
	flags.StringSliceVar(&f.languageCodes, "languages", defaults.LanguageCodes, "Project language codes")
	flags.StringSliceVar(&f.blockedCurrencies, "blocked-currencies", defaults.BlockedCurrencies, "Currency codes to skip")
	flags.StringSliceVar(&f.blockedCountries, "blocked-countries", defaults.BlockedCountries, "Owner countries to skip")
	flags.Float64Var(&f.minFixedBudget, "min-fixed-budget", defaults.MinFixedBudget, "Skip fixed projects whose maximum budget is at or below this")
	flags.BoolVar(&f.sealBids, "seal-bids", false, "Seal placed bids")

	flags.StringVar(&f.serviceOfferings, "service-offerings", "", "Services description used for matching")
	flags.StringVar(&f.writingStyle, "writing-style", "", "Bid writing instructions")
	flags.StringVar(&f.portfolioLinks, "portfolio-links", "", "Portfolio links appended to drafts")
	flags.StringVar(&f.signature, "signature", "", "Name used to sign bids")
}

func (f *sessionFlags) bidding(flags *pflag.FlagSet, base domain.BiddingConfig) domain.BiddingConfig {
	out := base
	if flags.Changed("bid-limit") {
		out.BidLimit = f.bidLimit
	}
	if flags.Changed("search-limit") {
		out.SearchLimit = f.searchLimit
	}
	if flags.Changed("search-interval") {
		out.SearchInterval = f.searchInterval
	}
	if flags.Changed("min-wait") {
		out.MinWaitTime = f.minWaitTime
	}
	if flags.Changed("contract-type") {
		out.ContractType = domain.ContractType(strings.ToLower(f.contractType))
	}
	if flags.Changed("skills") {
		out.SkillIDs = f.skillIDs
	}
	if flags.Changed("languages") {
		out.LanguageCodes = f.languageCodes
	}
	if flags.Changed("blocked-currencies") {
		out.BlockedCurrencies = f.blockedCurrencies
	}
	if flags.Changed("blocked-countries") {
		out.BlockedCountries = f.blockedCountries
	}
	if flags.Changed("min-fixed-budget") {
		out.MinFixedBudget = f.minFixedBudget
	}
	if flags.Changed("seal-bids") {
		out.SealBids = f.sealBids
	}
	return out
}

func (f *sessionFlags) preferences(flags *pflag.FlagSet, base domain.BidPreferences) domain.BidPreferences {
	out := base
	if flags.Changed("service-offerings") {
		out.ServiceOfferings = f.serviceOfferings
	}
	if flags.Changed("writing-style") {
		out.WritingStyle = f.writingStyle
	}
	if flags.Changed("portfolio-links") {
		out.PortfolioLinks = f.portfolioLinks
	}
	if flags.Changed("signature") {
		out.Signature = f.signature
	}
	return out
}

func anyChanged(flags *pflag.FlagSet, names []string) bool {
	for _, name := range names {
		if flags.Changed(name) {
			return true
		}
	}
	return false
}

func newSessionCreateCmd(app *app) *cobra.Command {
	var f sessionFlags

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a session and store its credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			id, err := app.registry.Create(cmd.Context(), application.CreateSessionCommand{
				Name:             f.name,
				MarketplaceToken: firstNonEmpty(f.marketplaceToken, app.settings.MarketplaceToken),
				LLMAPIKey:        firstNonEmpty(f.llmAPIKey, app.settings.LLMAPIKey),
				Bidding:          f.bidding(flags, domain.DefaultBiddingConfig()),
				Preferences:      f.preferences(flags, domain.BidPreferences{}),
				AutoStart:        f.autoStart,
			})
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), id)
			return err
		},
	}

	f.register(cmd.Flags())
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func newSessionListCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sessions, err := app.registry.List(cmd.Context())
			if err != nil {
				return err
			}

			for _, session := range sessions {
				autostart := ""
				if session.AutoStart {
					autostart = "autostart"
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", session.ID, session.Name, autostart)
			}

			return nil
		},
	}
}

func newSessionShowCmd(app *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show one session definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := app.registry.Get(cmd.Context(), domain.SessionID(args[0]))
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), session)
			}
			return writeSession(cmd.OutOrStdout(), session)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")

	return cmd
}

func writeSession(w io.Writer, s domain.Session) error {
	b := s.Bidding
	lines := []string{
		fmt.Sprintf("id:                 %s", s.ID),
		fmt.Sprintf("name:               %s", s.Name),
		fmt.Sprintf("autostart:          %t", s.AutoStart),
		fmt.Sprintf("marketplace token:  %s", s.Credentials.MarketplaceTokenRef),
		fmt.Sprintf("llm api key:        %s", s.Credentials.LLMAPIKeyRef),
		fmt.Sprintf("bid limit:          %d", b.BidLimit),
		fmt.Sprintf("search limit:       %d", b.SearchLimit),
		fmt.Sprintf("search interval:    %s", b.SearchInterval),
		fmt.Sprintf("min wait:           %s", b.MinWaitTime),
		fmt.Sprintf("contract type:      %s", b.ContractType),
		fmt.Sprintf("skills:             %s", joinInts(b.SkillIDs)),
		fmt.Sprintf("languages:          %s", strings.Join(b.LanguageCodes, ",")),
		fmt.Sprintf("blocked currencies: %s", strings.Join(b.BlockedCurrencies, ",")),
		fmt.Sprintf("blocked countries:  %s", strings.Join(b.BlockedCountries, ",")),
		fmt.Sprintf("min fixed budget:   %.2f", b.MinFixedBudget),
		fmt.Sprintf("seal bids:          %t", b.SealBids),
	}

	_, err := fmt.Fprintln(w, strings.Join(lines, "\n"))
	return err
}

func newSessionUpdateCmd(app *app) *cobra.Command {
	var f sessionFlags

	cmd := &cobra.Command{
		Use:   "update <session-id>",
		Short: "Change a stopped session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := domain.SessionID(args[0])
			current, err := app.registry.Get(cmd.Context(), id)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			var update application.UpdateSessionCommand
			if flags.Changed("name") {
				update.Name = &f.name
			}
			if flags.Changed("marketplace-token") {
				update.MarketplaceToken = &f.marketplaceToken
			}
			if flags.Changed("llm-api-key") {
				update.LLMAPIKey = &f.llmAPIKey
			}
			if flags.Changed("autostart") {
				update.AutoStart = &f.autoStart
			}
			if anyChanged(flags, biddingFlagNames) {
				bidding := f.bidding(flags, current.Bidding)
				update.Bidding = &bidding
			}
			if anyChanged(flags, preferenceFlagNames) {
				prefs := f.preferences(flags, current.Preferences)
				update.Preferences = &prefs
			}

			return app.registry.Update(cmd.Context(), id, update)
		},
	}

	f.register(cmd.Flags())

	return cmd
}

func newSessionDeleteCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a stopped session and its stored credentials",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.registry.Delete(cmd.Context(), domain.SessionID(args[0]))
		},
	}
}

func newSessionVerifyCmd(app *app) *cobra.Command {
	var noSpinner bool

	cmd := &cobra.Command{
		Use:   "verify <session-id>",
		Short: "Check the marketplace token by resolving the account behind it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := domain.SessionID(args[0])

			var bidder domain.UserID
			verify := func(ctx context.Context) error {
				var err error
				bidder, err = app.registry.Verify(ctx, id)
				return err
			}

			var err error
			if noSpinner {
				err = verify(cmd.Context())
			} else {
				err = runSpinner(cmd.Context(), cmd.ErrOrStderr(), "Contacting marketplace...", verify)
			}
			if err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "marketplace user id: %d\n", bidder)
			return err
		},
	}

	cmd.Flags().BoolVar(&noSpinner, "no-spinner", false, "Do not animate while waiting")

	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func joinInts(values []int) string {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		parts = append(parts, fmt.Sprint(v))
	}
	return strings.Join(parts, ",")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
