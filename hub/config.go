package hub

import (
	"fmt"
	"os"
	"strings"

	"github.com/effective-security/x/configloader"
)

// ServerConfig describes one MCP server: how to launch it and what it offers.
type ServerConfig struct {
	// Name is the short server name, used as the tool-id prefix.
	Name string `json:"name" yaml:"name"`
	// Description is shown in listings and in the agent's system prompt.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// Capabilities are coarse tags used by capability search.
	Capabilities []string `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	// Module is the python module to run with `uv run python -m <module>`.
	// Ignored when Command is set explicitly.
	Module string `json:"module,omitempty" yaml:"module,omitempty"`
	// Path is the server's install directory. Defaults to ../<name>-mcp,
	// overridable with the <NAME>_MCP_PATH environment variable.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
	// Command and Args override the launch command entirely.
	Command string   `json:"command,omitempty" yaml:"command,omitempty"`
	Args    []string `json:"args,omitempty" yaml:"args,omitempty"`
	// Env is extra environment for the child process.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

// Config is the optional YAML servers file.
type Config struct {
	// Servers are added to, or override, the built-in definitions by name.
	Servers []*ServerConfig `json:"servers" yaml:"servers"`
}

// LoadConfig reads a servers file with environment expansion.
func LoadConfig(file string) (*Config, error) {
	cfg := new(Config)
	if file == "" {
		return cfg, nil
	}
	err := configloader.UnmarshalAndExpand(file, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// ResolvePath returns the server's install directory: explicit Path,
// then <NAME>_MCP_PATH, then ../<name>-mcp.
func (c *ServerConfig) ResolvePath() string {
	if c.Path != "" {
		return c.Path
	}
	envVar := strings.ToUpper(c.Name) + "_MCP_PATH"
	if p := os.Getenv(envVar); p != "" {
		return p
	}
	return fmt.Sprintf("../%s-mcp", c.Name)
}

// PathExists reports whether the resolved install directory is present.
func (c *ServerConfig) PathExists() bool {
	_, err := os.Stat(c.ResolvePath())
	return err == nil
}

// LaunchCommand returns the command and arguments to start the server.
func (c *ServerConfig) LaunchCommand() (string, []string) {
	if c.Command != "" {
		return c.Command, c.Args
	}
	return "uv", []string{"run", "python", "-m", c.Module}
}

// BuiltinServers returns the five biomedical server definitions.
func BuiltinServers() []*ServerConfig {
	return []*ServerConfig{
		{
			Name:        "opentargets",
			Description: "Open Targets Platform - comprehensive drug target, disease, and evidence data",
			Capabilities: []string{
				"targets", "diseases", "drugs", "evidence", "variants", "studies",
				"genetic_associations", "pathways", "expression", "protein_interactions",
				"tractability", "safety", "mouse_phenotypes", "chemical_probes",
				"literature", "clinical_trials", "biomarkers",
			},
			Module: "opentargets_mcp.server",
		},
		{
			Name:        "monarch",
			Description: "Monarch Initiative - phenotype associations, disease models, and semantic similarity",
			Capabilities: []string{
				"phenotypes", "diseases", "genes", "genotype_phenotype",
				"disease_phenotype", "gene_phenotype", "model_organisms",
				"semantic_similarity", "hpo_terms", "disease_models",
			},
			Module: "monarch_mcp.server",
		},
		{
			Name:        "mychem",
			Description: "MyChem.info - comprehensive chemical and drug information",
			Capabilities: []string{
				"chemicals", "drugs", "compounds", "structures", "identifiers",
				"drugbank", "chembl", "pubchem", "pharmgkb", "drug_interactions",
				"mechanisms", "targets", "indications", "side_effects",
			},
			Module: "mychem_mcp.server",
		},
		{
			Name:        "mydisease",
			Description: "MyDisease.info - disease annotations from multiple sources",
			Capabilities: []string{
				"diseases", "symptoms", "phenotypes", "genetics", "drugs",
				"mondo", "omim", "orphanet", "mesh", "umls", "hpo",
				"disgenet", "ctd", "clinical_trials",
			},
			Module: "mydisease_mcp.server",
		},
		{
			Name:        "mygene",
			Description: "MyGene.info - gene annotation data aggregator",
			Capabilities: []string{
				"genes", "transcripts", "proteins", "variants", "homologs",
				"pathways", "interactions", "expression", "ontology",
				"entrez", "ensembl", "uniprot", "refseq", "go_terms",
			},
			Module: "mygene_mcp.server",
		},
	}
}
