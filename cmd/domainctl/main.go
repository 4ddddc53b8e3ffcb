package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wick3d/customdomains/pkg/client"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL string
	cfgFile   string
	timeout   time.Duration
	format    string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "domainctl",
	Short: "Custom domain verification CLI",
	Long: `domainctl registers custom domains with a domaind server, shows the DNS
records to publish and triggers ownership checks.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.domainctl")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("domainctl")
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8080"
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.domainctl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "domaind base URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")
	rootCmd.PersistentFlags().StringVar(&format, "format", "text", "output format: text or json")

	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(instructionsCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(lookupCmd)
	rootCmd.AddCommand(versionCmd)
}

func newClient() (*client.Client, error) {
	return client.New(serverURL, client.WithTimeout(timeout), client.WithUserAgent("domainctl/"+version))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printInstructions(ins *client.Instructions) {
	fmt.Printf("Record:  %s\n", ins.RecordType)
	fmt.Printf("Host:    %s\n", ins.Host)
	fmt.Printf("Value:   %s\n", ins.Value)
	fmt.Printf("TTL:     %d\n", ins.TTL)
	for _, s := range ins.Steps {
		fmt.Println("  " + s)
	}
}

// ── add ──────────────────────────────────────────────────────────────────────

var (
	addPrimary bool
	addMethod  string
)

var addCmd = &cobra.Command{
	Use:   "add <domain>",
	Short: "Register a domain and print the DNS record to publish",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		reg, err := c.AddDomain(cmd.Context(), client.AddRequest{Domain: args[0], Primary: addPrimary, Method: addMethod})
		if err != nil {
			return err
		}
		if format == "json" {
			return printJSON(reg)
		}
		kind := "additional"
		if reg.IsPrimary {
			kind = "primary"
		}
		fmt.Printf("Registered %s domain %s (%s)\n\n", kind, reg.Domain, reg.Method)
		printInstructions(&reg.Instructions)
		if reg.Reputation != nil {
			fmt.Printf("\nReputation: %d (%s)\n", reg.Reputation.Score, reg.Reputation.Risk)
		}
		fmt.Println("\nVerification runs in the background. Use 'domainctl check' to check now.")
		return nil
	},
}

func init() {
	addCmd.Flags().BoolVar(&addPrimary, "primary", false, "register as the primary custom domain")
	addCmd.Flags().StringVar(&addMethod, "method", "txt", "verification method: txt or cname")
}

// ── check ────────────────────────────────────────────────────────────────────

// checkRow holds the outcome of a single check.
type checkRow struct {
	domain string
	result *client.CheckResult
	err    error
}

var checkCmd = &cobra.Command{
	Use:   "check <domain> [domain] ...",
	Short: "Verify one or more registered domains now",
	Long: `Check asks the server to verify ownership immediately. Multiple domains
are checked concurrently and displayed as a table.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		resultsCh := make(chan checkRow, len(args))
		for _, d := range args {
			go func() {
				r, err := c.CheckDomain(cmd.Context(), d)
				resultsCh <- checkRow{domain: d, result: r, err: err}
			}()
		}
		byDomain := make(map[string]checkRow, len(args))
		for range args {
			r := <-resultsCh
			byDomain[r.domain] = r
		}
		rows := make([]checkRow, len(args))
		for i, d := range args {
			rows[i] = byDomain[d]
		}

		if format == "json" {
			return printCheckJSON(rows)
		}
		return printCheckText(rows)
	},
}

func printCheckJSON(rows []checkRow) error {
	type jsonRow struct {
		Domain string              `json:"domain"`
		Result *client.CheckResult `json:"result,omitempty"`
		Error  string              `json:"error,omitempty"`
	}
	out := make([]jsonRow, len(rows))
	for i, r := range rows {
		out[i] = jsonRow{Domain: r.domain, Result: r.result}
		if r.err != nil {
			out[i].Error = r.err.Error()
		}
	}
	var v any = out
	if len(out) == 1 {
		v = out[0]
	}
	return printJSON(v)
}

func printCheckText(rows []checkRow) error {
	if len(rows) == 1 {
		r := rows[0]
		if r.err != nil {
			return fmt.Errorf("check %q: %w", r.domain, r.err)
		}
		fmt.Printf("Domain:    %s\n", r.result.Domain)
		fmt.Printf("Method:    %s\n", r.result.Method)
		fmt.Printf("Verified:  %t\n", r.result.Verified)
		if len(r.result.RecordsFound) > 0 {
			fmt.Printf("Records:   %s\n", strings.Join(r.result.RecordsFound, ", "))
		}
		for _, m := range r.result.Methods {
			status := "ok"
			if !m.Successful {
				status = "failed: " + m.Error
			}
			fmt.Printf("  %-16s %d record(s), %s\n", m.Name, m.Records, status)
		}
		if r.result.Instructions != nil {
			fmt.Println()
			printInstructions(r.result.Instructions)
		}
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DOMAIN\tMETHOD\tVERIFIED\tRECORDS\tERROR")
	var failed bool
	for _, r := range rows {
		if r.err != nil {
			failed = true
			fmt.Fprintf(w, "%s\t\t\t\t%s\n", r.domain, r.err.Error())
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%d\t\n", r.result.Domain, r.result.Method, r.result.Verified, len(r.result.RecordsFound))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if failed {
		return errors.New("one or more checks failed")
	}
	return nil
}

// ── list ─────────────────────────────────────────────────────────────────────

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the primary and additional custom domains",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		list, err := c.ListDomains(cmd.Context())
		if err != nil {
			return err
		}
		if format == "json" {
			return printJSON(list)
		}

		if list.Default != "" {
			fmt.Printf("Default domain: %s\n", list.Default)
		}
		fmt.Printf("Custom domain in use: %t\n\n", list.UseCustomDomain)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "DOMAIN\tROLE\tMETHOD\tVERIFIED\tRISK\tNOTE")
		row := func(d client.DomainStatus, role string) {
			risk := "-"
			if d.Reputation != nil {
				risk = d.Reputation.Risk
			}
			note := ""
			if d.NeedsMigration {
				note = "re-register to verify"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%s\n", d.Domain, role, d.Method, d.Verified, risk, note)
		}
		if list.Primary != nil {
			row(*list.Primary, "primary")
		}
		for _, d := range list.Additional {
			row(d, "additional")
		}
		return w.Flush()
	},
}

// ── remove ───────────────────────────────────────────────────────────────────

var removeCmd = &cobra.Command{
	Use:   "remove <domain>",
	Short: "Unregister a domain and stop its background checks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		if err := c.RemoveDomain(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Removed %s\n", args[0])
		return nil
	},
}

// ── instructions ─────────────────────────────────────────────────────────────

var instructionsCmd = &cobra.Command{
	Use:   "instructions <domain>",
	Short: "Print the DNS record to publish for a registered domain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ins, err := c.Instructions(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if format == "json" {
			return printJSON(ins)
		}
		printInstructions(ins)
		return nil
	},
}

// ── tasks ────────────────────────────────────────────────────────────────────

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List pending background verifications",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		tasks, err := c.PendingTasks(cmd.Context())
		if err != nil {
			return err
		}
		if format == "json" {
			return printJSON(tasks)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "DOMAIN\tMETHOD\tATTEMPT\tNEXT RUN\tDELAY")
		for _, t := range tasks {
			fmt.Fprintf(w, "%s\t%s\t%d/%d\t%s\t%s\n",
				t.Domain, t.Method, t.Attempt+1, t.MaxAttempts, t.RunAt.Local().Format(time.RFC3339), t.Delay)
		}
		return w.Flush()
	},
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the domainctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("domainctl %s\n", version)
	},
}

func contextWithTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, timeout)
}

// ── audit ────────────────────────────────────────────────────────────────────

var (
	auditOffset int
	auditLimit  int
	auditVerify bool
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show the domain audit log or verify its hash chain",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		if auditVerify {
			st, err := c.VerifyAudit(cmd.Context())
			if err != nil {
				return err
			}
			if format == "json" {
				return printJSON(st)
			}
			if !st.Valid {
				return fmt.Errorf("audit chain is NOT intact: %s", st.Error)
			}
			fmt.Printf("Audit chain intact: %d entries, root %s\n", st.Entries, st.Root)
			return nil
		}

		page, err := c.AuditLog(cmd.Context(), auditOffset, auditLimit)
		if err != nil {
			return err
		}
		if format == "json" {
			return printJSON(page)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "#\tTIME\tDOMAIN\tACTION\tACTOR\tHASH")
		for _, e := range page.Entries {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%.12s\n",
				e.Index, e.Timestamp.Local().Format(time.RFC3339), e.Domain, e.Action, e.Actor, e.Hash)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Printf("\n%d of %d entries\n", len(page.Entries), page.Total)
		return nil
	},
}

func init() {
	auditCmd.Flags().IntVar(&auditOffset, "offset", 0, "first entry to show")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 50, "maximum entries to show")
	auditCmd.Flags().BoolVar(&auditVerify, "verify", false, "verify the hash chain instead of listing")
	rootCmd.AddCommand(auditCmd)
}
