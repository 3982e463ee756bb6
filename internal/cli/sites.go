package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/boorupan/internal/source"
)

var (
	siteAddName   string
	siteAddType   string
	siteAddRating string
	siteAddTags   string
	siteAddCreds  []string
)

var sitesCmd = &cobra.Command{
	Use:   "sites",
	Short: "Manage the configured sites",
}

var sitesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sites in feed order",
	Args:  cobra.NoArgs,
	RunE:  sitesListAction,
}

var sitesAddCmd = &cobra.Command{
	Use:   "add <base-url>",
	Short: "Add a site, or update the one with the same type and URL",
	Args:  cobra.ExactArgs(1),
	RunE:  sitesAddAction,
}

var sitesRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a site by name or identity",
	Args:  cobra.ExactArgs(1),
	RunE:  sitesRemoveAction,
}

var sitesCheckCmd = &cobra.Command{
	Use:   "check [name]",
	Short: "Verify site credentials and reachability",
	Args:  cobra.MaximumNArgs(1),
	RunE:  sitesCheckAction,
}

func init() {
	f := sitesAddCmd.Flags()
	f.StringVar(&siteAddName, "name", "", "display name (default: host)")
	f.StringVar(&siteAddType, "type", "", "site type: "+typeNames())
	f.StringVar(&siteAddRating, "rating", "", "rating filter: all, safe, sensitive, questionable, explicit")
	f.StringVar(&siteAddTags, "tags", "", "extra tags added to every query")
	f.StringSliceVar(&siteAddCreds, "cred", nil, "credential as field=value (repeatable)")
	_ = sitesAddCmd.MarkFlagRequired("type")

	sitesCmd.AddCommand(sitesListCmd, sitesAddCmd, sitesRemoveCmd, sitesCheckCmd, sitesImportCmd)
}

func typeNames() string {
	types := source.Types()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

func sitesListAction(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	printSites(os.Stdout, a.sites.List())
	return nil
}

func printSites(w io.Writer, list []source.Site) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No sites configured. Add one with 'boorupan sites add'.")
		return
	}
	for _, s := range list {
		extra := ""
		if s.Rating != "" {
			extra += " rating=" + s.Rating
		}
		if s.Tags != "" {
			extra += " tags=" + s.Tags
		}
		if len(s.Credentials) > 0 {
			extra += " (credentials)"
		}
		fmt.Fprintf(w, "  %d. %-20s %-10s %s%s\n", s.OrderIndex+1, s.Name, s.Type, s.BaseURL, extra)
	}
}

func parseCreds(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("credential %q: want field=value", p)
		}
		out[strings.TrimSpace(k)] = v
	}
	return out, nil
}

func sitesAddAction(cmd *cobra.Command, args []string) error {
	creds, err := parseCreds(siteAddCreds)
	if err != nil {
		return err
	}
	base := source.NormalizeBaseURL(args[0])
	name := siteAddName
	if name == "" {
		name = strings.TrimPrefix(strings.TrimPrefix(base, "https://"), "http://")
	}
	site := source.Site{
		Name:        name,
		Type:        source.SiteType(strings.ToLower(siteAddType)),
		BaseURL:     base,
		Rating:      siteAddRating,
		Tags:        siteAddTags,
		Credentials: creds,
	}
	if err := site.Validate(); err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if err := a.sites.Add(ctx, site); err != nil {
		return fmt.Errorf("add site: %w", err)
	}
	fmt.Printf("Saved %s (%s). %d sites configured.\n", site.Name, site.Identity(), len(a.sites.List()))
	return nil
}

func sitesRemoveAction(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	removed, err := a.sites.Remove(ctx, args[0])
	if err != nil {
		return fmt.Errorf("remove site: %w", err)
	}
	if !removed {
		return fmt.Errorf("site %q not configured", args[0])
	}
	fmt.Printf("Removed %s.\n", args[0])
	return nil
}

func sitesCheckAction(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	list := a.sites.List()
	if len(args) == 1 {
		site, err := a.findSite(args[0])
		if err != nil {
			return err
		}
		list = []source.Site{site}
	}

	ok := true
	for _, site := range list {
		adapter, err := a.resolve(site)
		if err != nil {
			printCheck(false, "%s: %v", site.Name, err)
			ok = false
			continue
		}
		page, err := adapter.FetchNew(ctx, site, source.Request{Limit: 1})
		if err != nil {
			printCheck(false, "%s: listing failed: %v", site.Name, err)
			ok = false
			continue
		}
		printCheck(true, "%s: listing (%d posts)", site.Name, len(page.Posts))

		checker, canCheck := adapter.(source.AuthChecker)
		switch {
		case len(site.Credentials) == 0:
			printInfo("%s: no credentials", site.Name)
		case !canCheck:
			printInfo("%s: %s cannot verify credentials", site.Name, site.Type)
		default:
			if err := checker.AuthCheck(ctx, site); err != nil {
				printCheck(false, "%s: credentials rejected: %v", site.Name, err)
				ok = false
			} else {
				printCheck(true, "%s: credentials", site.Name)
			}
		}
	}
	if !ok {
		return fmt.Errorf("some checks failed")
	}
	return nil
}
