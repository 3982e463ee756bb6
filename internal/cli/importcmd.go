package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/boorupan/internal/config"
	"github.com/ppiankov/boorupan/internal/source"
)

var (
	importDryRun bool
	importSeed   bool
)

var sitesImportCmd = &cobra.Command{
	Use:   "import <sites.yaml>",
	Short: "Add sites from a YAML file with a top-level sites list",
	Args:  cobra.ExactArgs(1),
	RunE:  importAction,
}

func init() {
	sitesImportCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "show what would be added without saving")
	sitesImportCmd.Flags().BoolVar(&importSeed, "seed", false, "also append new sites to config.yaml")
}

type sitesFile struct {
	Sites []config.SiteConfig `yaml:"sites"`
}

// seedSite is how a site is written back into config.yaml.
type seedSite struct {
	Name           string            `yaml:"name"`
	Type           string            `yaml:"type"`
	BaseURL        string            `yaml:"base_url"`
	Rating         string            `yaml:"rating,omitempty"`
	Tags           string            `yaml:"tags,omitempty"`
	CredentialsEnv map[string]string `yaml:"credentials_env,omitempty"`
}

func importAction(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read sites file: %w", err)
	}
	var doc sitesFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse sites file: %w", err)
	}
	if len(doc.Sites) == 0 {
		fmt.Println("No sites found in file.")
		return nil
	}

	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	existing := make(map[string]bool)
	for _, s := range a.sites.List() {
		existing[s.Identity()] = true
	}

	var fresh []config.SiteConfig
	skipped := 0
	for i, sc := range doc.Sites {
		sc.BaseURL = source.NormalizeBaseURL(sc.BaseURL)
		if err := sc.Validate(); err != nil {
			return fmt.Errorf("sites[%d]: %w", i, err)
		}
		if existing[sc.Identity()] {
			skipped++
			continue
		}
		existing[sc.Identity()] = true
		for field, name := range sc.CredentialsEnv {
			if v := os.Getenv(name); v != "" {
				if sc.Credentials == nil {
					sc.Credentials = make(map[string]string)
				}
				sc.Credentials[field] = v
			}
		}
		fresh = append(fresh, sc)
	}

	if len(fresh) == 0 {
		fmt.Printf("All %d sites already present, nothing to add.\n", skipped)
		return nil
	}

	if importDryRun {
		fmt.Printf("Would add %d sites (skipping %d duplicates):\n", len(fresh), skipped)
		for _, sc := range fresh {
			fmt.Printf("  + %s (%s)\n", sc.Name, sc.Identity())
		}
		return nil
	}

	for _, sc := range fresh {
		if err := a.sites.Add(ctx, sc.Site); err != nil {
			return fmt.Errorf("add %s: %w", sc.Name, err)
		}
	}
	if importSeed {
		configPath := filepath.Join(configDir, config.DefaultConfigFile)
		if err := mergeSeedSites(configPath, fresh); err != nil {
			return fmt.Errorf("merge sites: %w", err)
		}
	}

	fmt.Printf("Added %d sites, skipped %d duplicates.\n", len(fresh), skipped)
	return nil
}

// mergeSeedSites reads config.yaml as a yaml.Node tree, finds the top-level
// sites sequence, appends the new sites, and writes back preserving
// structure and comments.
func mergeSeedSites(configPath string, fresh []config.SiteConfig) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse config YAML: %w", err)
	}

	sitesNode := findSitesNode(&doc)
	if sitesNode == nil {
		return fmt.Errorf("could not find a sites list in config.yaml")
	}

	for _, sc := range fresh {
		var n yaml.Node
		if err := n.Encode(seedSite{
			Name:           sc.Name,
			Type:           string(sc.Type),
			BaseURL:        sc.BaseURL,
			Rating:         sc.Rating,
			Tags:           sc.Tags,
			CredentialsEnv: sc.CredentialsEnv,
		}); err != nil {
			return fmt.Errorf("encode %s: %w", sc.Name, err)
		}
		sitesNode.Content = append(sitesNode.Content, &n)
	}

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(configPath, out, 0o644)
}

// findSitesNode returns the sequence node at sites, creating it when the
// key is missing or null.
func findSitesNode(doc *yaml.Node) *yaml.Node {
	if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		return findSitesNode(doc.Content[0])
	}

	if doc.Kind != yaml.MappingNode {
		return nil
	}

	node := findMapValue(doc, "sites")
	if node == nil {
		node = &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		doc.Content = append(doc.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: "sites"},
			node)
		return node
	}
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		node.Kind = yaml.SequenceNode
		node.Tag = "!!seq"
		node.Value = ""
	}
	if node.Kind != yaml.SequenceNode {
		return nil
	}
	return node
}

func findMapValue(mapping *yaml.Node, key string) *yaml.Node {
	if mapping.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}
