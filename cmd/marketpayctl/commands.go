package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"

	sqliteadapter "github.com/ericfisherdev/marketpay/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/marketpay/internal/application"
	"github.com/ericfisherdev/marketpay/internal/config"
	"github.com/ericfisherdev/marketpay/internal/domain/model"
	"github.com/ericfisherdev/marketpay/internal/domain/port/driven"
)

// cli holds state shared by every subcommand. reconciler and vendors are
// opened lazily from the configured database unless already set.
type cli struct {
	dbPath     string
	asJSON     bool
	reconciler *application.Reconciler
	vendors    driven.VendorStore
	closeDB    func() error
	out        io.Writer
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:               "marketpayctl",
		Short:             "Inspect and repair vendor payment connections",
		Long:              `Operator tooling for the marketpay credential store. Commands report drift between vendor payment caches and connection rows; repairs run only when explicitly requested.`,
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.open(cmd.Context())
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			if c.closeDB == nil {
				return nil
			}
			return c.closeDB()
		},
	}
	root.SetOut(c.out)
	root.SetErr(c.out)

	root.PersistentFlags().StringVar(&c.dbPath, "db", "", "SQLite database path (defaults to MARKETPAY_DB_PATH)")
	root.PersistentFlags().BoolVar(&c.asJSON, "json", false, "Print JSON instead of text")

	root.AddCommand(
		newDiagnoseCmd(c),
		newScanCmd(c),
		newVerifyCmd(c),
		newRepairCmd(c),
		newVendorCmd(c),
	)
	return root
}

func (c *cli) open(ctx context.Context) error {
	if c.reconciler != nil {
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	path := c.dbPath
	if path == "" {
		path = cfg.DBPath
	}

	db, err := sqliteadapter.NewDB(ctx, path)
	if err != nil {
		return err
	}
	if _, err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		_ = db.Close()
		return err
	}

	c.vendors = sqliteadapter.NewVendorRepo(db)
	c.reconciler = application.NewReconciler(
		c.vendors,
		sqliteadapter.NewConnectionRepo(db, cfg.SecretKey),
		cfg.StoreTimeout,
		slog.Default(),
	)
	c.closeDB = db.Close
	return nil
}

func newDiagnoseCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "diagnose <vendor-id>",
		Short: "Compare a vendor's payment cache with its connection rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := c.reconciler.Diagnose(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.printDiagnoses(*d)
		},
	}
}

func newScanCmd(c *cli) *cobra.Command {
	var failOnDrift bool

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "List vendors whose cache claims a connection with no active row",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mismatches, err := c.reconciler.ScanAllMismatches(cmd.Context())
			if err != nil {
				return err
			}
			if err := c.printDiagnoses(mismatches...); err != nil {
				return err
			}
			if failOnDrift && len(mismatches) > 0 {
				return fmt.Errorf("%d vendor(s) drifted", len(mismatches))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&failOnDrift, "fail-on-drift", false, "Exit non-zero when any mismatch is found")
	return cmd
}

func newVerifyCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <vendor-id>",
		Short: "Stamp a vendor verified if its cache agrees with its rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := c.reconciler.Verify(cmd.Context(), args[0])
			var inconsistent *model.InconsistentStateError
			if errors.As(err, &inconsistent) {
				_ = c.printDiagnoses(inconsistent.Diagnosis)
				return err
			}
			if err != nil {
				return err
			}
			return c.printDiagnoses(*d)
		},
	}
}

// accessTokenEnv carries the token for materialize_connection so it stays
// out of argv and shell history.
const accessTokenEnv = "MARKETPAY_REPAIR_ACCESS_TOKEN"

func newRepairCmd(c *cli) *cobra.Command {
	var (
		action         string
		provider       string
		accountID      string
		tokenFromStdin bool
		confirmed      bool
	)

	cmd := &cobra.Command{
		Use:   "repair <vendor-id>",
		Short: "Apply an explicit repair strategy to one vendor",
		Long: `Apply an operator-selected repair. Nothing is inferred:

  reset_vendor_cache       clear the vendor's cached payment fields
  materialize_connection   record a connection known to exist at the provider
                           (requires --provider and --account-id; the access
                           token is read from stdin with --access-token-stdin,
                           otherwise from ` + accessTokenEnv + `)`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirmed {
				return errors.New("repair changes stored data; re-run with --yes to apply")
			}

			strategy := model.RepairStrategy{Action: model.RepairAction(action)}
			if strategy.Action == model.RepairMaterializeConnection {
				accessToken, err := readAccessToken(cmd.InOrStdin(), tokenFromStdin)
				if err != nil {
					return err
				}
				strategy.Connection = &model.ConnectionData{
					Provider:          model.Provider(provider),
					ProviderAccountID: accountID,
					AccessToken:       accessToken,
				}
			}

			res, err := c.reconciler.Repair(cmd.Context(), args[0], strategy)
			if err != nil {
				return err
			}

			if c.asJSON {
				return c.writeJSON(toRepairOutput(res))
			}
			fmt.Fprintf(c.out, "applied %s to vendor %s\n", res.Action, args[0])
			if res.Connection != nil {
				fmt.Fprintf(c.out, "connection %s (%s %s)\n", res.Connection.ID, res.Connection.Provider, res.Connection.ProviderAccountID)
			}
			fmt.Fprintln(c.out, "before:")
			if err := c.printDiagnoses(res.Before); err != nil {
				return err
			}
			fmt.Fprintln(c.out, "after:")
			return c.printDiagnoses(res.After)
		},
	}

	cmd.Flags().StringVar(&action, "action", "", "reset_vendor_cache or materialize_connection")
	cmd.Flags().StringVar(&provider, "provider", "", "Provider for materialize_connection (square or stripe)")
	cmd.Flags().StringVar(&accountID, "account-id", "", "Provider account id for materialize_connection")
	cmd.Flags().BoolVar(&tokenFromStdin, "access-token-stdin", false, "Read the materialize_connection access token from stdin")
	cmd.Flags().BoolVar(&confirmed, "yes", false, "Confirm the repair")
	_ = cmd.MarkFlagRequired("action")
	return cmd
}

// readAccessToken takes the first line of in when fromStdin is set, else the
// value of accessTokenEnv.
func readAccessToken(in io.Reader, fromStdin bool) (string, error) {
	if !fromStdin {
		return strings.TrimSpace(os.Getenv(accessTokenEnv)), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read access token: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func newVendorCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vendor",
		Short: "Manage vendor records",
	}
	cmd.AddCommand(newVendorAddCmd(c))
	return cmd
}

func newVendorAddCmd(c *cli) *cobra.Command {
	var name, email, phone string

	cmd := &cobra.Command{
		Use:   "add <vendor-id>",
		Short: "Register a vendor so it can connect a payment provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v := model.Vendor{
				ID:           strings.TrimSpace(args[0]),
				Name:         strings.TrimSpace(name),
				ContactEmail: strings.TrimSpace(email),
				ContactPhone: strings.TrimSpace(phone),
			}
			if v.ID == "" || v.Name == "" {
				return fmt.Errorf("vendor id and --name are required: %w", model.ErrInvalidRequest)
			}
			if err := validator.New().Var(v.ContactEmail, "omitempty,email"); err != nil {
				return fmt.Errorf("--email %q is not an email address: %w", v.ContactEmail, model.ErrInvalidRequest)
			}

			_, err := c.vendors.Get(cmd.Context(), v.ID)
			switch {
			case err == nil:
				return fmt.Errorf("vendor %s already exists: %w", v.ID, model.ErrInvalidRequest)
			case !errors.Is(err, model.ErrVendorNotFound):
				return err
			}

			if err := c.vendors.Create(cmd.Context(), v); err != nil {
				return err
			}
			created, err := c.vendors.Get(cmd.Context(), v.ID)
			if err != nil {
				return err
			}

			if c.asJSON {
				return c.writeJSON(vendorOutput{
					ID:           created.ID,
					Name:         created.Name,
					ContactEmail: created.ContactEmail,
					ContactPhone: created.ContactPhone,
					CreatedAt:    checkedAt(created.CreatedAt),
				})
			}
			fmt.Fprintf(c.out, "added vendor %s (%s)\n", created.ID, created.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Vendor display name")
	cmd.Flags().StringVar(&email, "email", "", "Contact email")
	cmd.Flags().StringVar(&phone, "phone", "", "Contact phone")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

// vendorOutput is the JSON shape printed for a new vendor.
type vendorOutput struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ContactEmail string `json:"contactEmail,omitempty"`
	ContactPhone string `json:"contactPhone,omitempty"`
	CreatedAt    string `json:"createdAt"`
}

// diagnosisOutput is the JSON shape printed for a diagnosis.
type diagnosisOutput struct {
	VendorID              string `json:"vendorId"`
	VendorSaysConnected   bool   `json:"vendorSaysConnected"`
	CachedProvider        string `json:"cachedProvider,omitempty"`
	ActiveConnectionCount int    `json:"activeConnectionCount"`
	TotalConnectionCount  int    `json:"totalConnectionCount"`
	HasActiveSquare       bool   `json:"hasActiveSquareConnection"`
	HasActiveStripe       bool   `json:"hasActiveStripeConnection"`
	MismatchDetected      bool   `json:"mismatchDetected"`
	ReverseMismatch       bool   `json:"reverseMismatch"`
	State                 string `json:"state,omitempty"`
	CheckedAt             string `json:"checkedAt"`
	Error                 string `json:"error,omitempty"`
}

// repairOutput omits connection tokens.
type repairOutput struct {
	Action       string          `json:"action"`
	Before       diagnosisOutput `json:"before"`
	After        diagnosisOutput `json:"after"`
	ConnectionID string          `json:"connectionId,omitempty"`
}

func toDiagnosisOutput(d model.Diagnosis) diagnosisOutput {
	return diagnosisOutput{
		VendorID:              d.VendorID,
		VendorSaysConnected:   d.VendorSaysConnected,
		CachedProvider:        string(d.CachedProvider),
		ActiveConnectionCount: d.ActiveConnectionCount,
		TotalConnectionCount:  d.TotalConnectionCount,
		HasActiveSquare:       d.HasActiveSquareConnection,
		HasActiveStripe:       d.HasActiveStripeConnection,
		MismatchDetected:      d.MismatchDetected,
		ReverseMismatch:       d.ReverseMismatch,
		State:                 string(d.State),
		CheckedAt:             checkedAt(d.CheckedAt),
		Error:                 d.Error,
	}
}

func toRepairOutput(res *model.RepairResult) repairOutput {
	out := repairOutput{
		Action: string(res.Action),
		Before: toDiagnosisOutput(res.Before),
		After:  toDiagnosisOutput(res.After),
	}
	if res.Connection != nil {
		out.ConnectionID = res.Connection.ID
	}
	return out
}

func (c *cli) printDiagnoses(ds ...model.Diagnosis) error {
	if c.asJSON {
		out := make([]diagnosisOutput, 0, len(ds))
		for _, d := range ds {
			out = append(out, toDiagnosisOutput(d))
		}
		return c.writeJSON(out)
	}

	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VENDOR\tCACHED\tPROVIDER\tACTIVE\tTOTAL\tSTATE\tMISMATCH\tREVERSE\tCHECKED")
	for _, d := range ds {
		provider := string(d.CachedProvider)
		if provider == "" {
			provider = "-"
		}
		state := string(d.State)
		if d.Error != "" {
			state = "unreadable: " + d.Error
		}
		fmt.Fprintf(tw, "%s\t%t\t%s\t%d\t%d\t%s\t%t\t%t\t%s\n",
			d.VendorID, d.VendorSaysConnected, provider,
			d.ActiveConnectionCount, d.TotalConnectionCount, state,
			d.MismatchDetected, d.ReverseMismatch, checkedAt(d.CheckedAt))
	}
	return tw.Flush()
}

func (c *cli) writeJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func checkedAt(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
