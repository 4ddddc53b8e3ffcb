package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wick3d/customdomains/internal/dns"
)

var (
	lookupMethod    string
	lookupExpect    string
	lookupNoDoH     bool
	lookupOverrides string
)

var lookupCmd = &cobra.Command{
	Use:   "lookup <domain>",
	Short: "Query TXT or CNAME records locally through the resolver chain",
	Long: `Lookup runs the same resolver chain as the server (system resolver, then
Google and Cloudflare DNS-over-HTTPS) from this machine, without contacting
domaind. With --expect it also reports whether the value would verify.`,
	Args: cobra.ExactArgs(1),
	RunE: runLookup,
}

func init() {
	lookupCmd.Flags().StringVar(&lookupMethod, "method", "txt", "record to query: txt or cname")
	lookupCmd.Flags().StringVar(&lookupExpect, "expect", "", "expected token or CNAME target")
	lookupCmd.Flags().BoolVar(&lookupNoDoH, "no-doh", false, "use only the system resolver")
	lookupCmd.Flags().StringVar(&lookupOverrides, "overrides", "", "dns overrides file consulted first")
}

func runLookup(cmd *cobra.Command, args []string) error {
	method, err := dns.ParseMethod(lookupMethod)
	if err != nil {
		return err
	}
	domain, err := dns.NormalizeDomain(args[0])
	if err != nil {
		return err
	}

	var resolvers []dns.Resolver
	if lookupOverrides != "" {
		fr, err := dns.NewFileResolver(lookupOverrides)
		if err != nil {
			return err
		}
		resolvers = append(resolvers, fr)
	}
	resolvers = append(resolvers, dns.NewSystemResolver(nil, timeout))
	if !lookupNoDoH {
		resolvers = append(resolvers, dns.NewDoHResolver(dns.GoogleDoH), dns.NewDoHResolver(dns.CloudflareDoH))
	}
	chain := dns.NewChain(dns.ChainConfig{LookupTimeout: timeout, Retry: dns.DefaultRetryPolicy()}, zap.NewNop(), resolvers...)

	ctx, cancel := contextWithTimeout(cmd.Context())
	defer cancel()

	if lookupExpect != "" {
		res, err := dns.NewVerifier(chain).Verify(ctx, domain, lookupExpect, method)
		if err != nil {
			return err
		}
		if format == "json" {
			return printJSON(res)
		}
		printResolution(domain, method, res.RecordsFound, res.Methods, res.Errors)
		fmt.Printf("Verified: %t\n", res.Verified)
		return nil
	}

	res := chain.Resolve(ctx, domain, method.RecordType())
	if format == "json" {
		return printJSON(res)
	}
	printResolution(domain, method, res.Records, res.Methods, res.Errors)
	return nil
}

func printResolution(domain string, method dns.Method, records []string, methods []dns.MethodDiagnostic, errs []string) {
	fmt.Printf("%s %s\n", method.RecordType(), domain)
	if len(records) == 0 {
		fmt.Println("  (no records)")
	}
	for _, r := range records {
		fmt.Printf("  %q\n", r)
	}
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "METHOD\tOK\tRECORDS\tERROR")
	for _, m := range methods {
		fmt.Fprintf(w, "%s\t%t\t%d\t%s\n", m.Name, m.Successful, m.Records, m.Error)
	}
	_ = w.Flush()
	if len(errs) > 0 {
		fmt.Printf("\nErrors: %s\n", strings.Join(errs, "; "))
	}
}
