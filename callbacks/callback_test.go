package callbacks_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/effective-security/biomcp/agent"
	"github.com/effective-security/biomcp/callbacks"
	"github.com/effective-security/biomcp/pkg/llms"
	"github.com/effective-security/biomcp/tools"
	"github.com/effective-security/x/values"
	"github.com/invopop/jsonschema"
	"github.com/stretchr/testify/assert"
)

func TestCallback(t *testing.T) {
	var buf bytes.Buffer
	cb := callbacks.NewPrinter(&buf, callbacks.ModeVerbose)

	ast := &fakeAssistant{name: "gene-curator"}
	tool := &fakeTool{name: "get_gene"}

	resp := &llms.ContentResponse{
		Choices: []*llms.ContentChoice{
			{
				Content: "BRAF encodes a serine/threonine kinase",
			},
		},
	}

	ctx := context.Background()
	cb.OnAssistantStart(ctx, ast, "What is BRAF?")
	cb.OnAssistantEnd(ctx, ast, "What is BRAF?", resp, nil)
	cb.OnAssistantError(ctx, ast, "What is BRAF?", errors.New("rate limited"), nil)
	cb.OnToolStart(ctx, tool, ast.Name(), `{"gene_id":"ENSG00000157764"}`)
	cb.OnToolEnd(ctx, tool, ast.Name(), `{"gene_id":"ENSG00000157764"}`, `{"symbol":"BRAF"}`)
	cb.OnToolError(ctx, tool, ast.Name(), `{"gene_id":"ENSG00000157764"}`, errors.New("upstream timeout"))
	cb.OnToolNotFound(ctx, ast, "get_pathway")

	res := buf.String()
	assert.Contains(t, res, "Assistant Start: gene-curator")
	assert.Contains(t, res, "Input: What is BRAF?")
	assert.Contains(t, res, "Assistant End: gene-curator")
	assert.Contains(t, res, "Tool Start: get_gene")
	assert.Contains(t, res, "Tool End: get_gene")
	assert.Contains(t, res, `Output: {"symbol":"BRAF"}`)
	assert.Contains(t, res, "Tool Error: get_gene")
	assert.Contains(t, res, "Tool Not Found: get_pathway")
}

func TestFanout(t *testing.T) {
	var buf1, buf2 bytes.Buffer
	fan := callbacks.NewFanout(callbacks.NewPrinter(&buf1, callbacks.ModeDefault))
	fan.Add(callbacks.NewPrinter(&buf2, callbacks.ModeVerbose))

	ast := &fakeAssistant{name: "gene-curator"}

	fan.OnAssistantStart(context.Background(), ast, "What is BRAF?")
	fan.OnAssistantError(context.Background(), ast, "What is BRAF?", errors.New("rate limited"), nil)

	assert.Contains(t, buf1.String(), "Assistant Start: gene-curator")
	assert.Contains(t, buf2.String(), "Assistant Error: gene-curator: rate limited")
}

func TestNoop(t *testing.T) {
	cb := callbacks.NewNoop()
	ast := &fakeAssistant{name: "gene-curator"}
	// all events are dropped
	cb.OnAssistantStart(context.Background(), ast, "What is BRAF?")
	cb.OnAssistantEnd(context.Background(), ast, "What is BRAF?", &llms.ContentResponse{}, nil)
	cb.OnToolNotFound(context.Background(), ast, "get_pathway")
}

func TestDescriptions(t *testing.T) {
	searchTool := &fakeTool{name: "search_targets", description: "search drug targets\nby symbol"}
	geneTool := &fakeTool{name: "get_gene", description: "fetch gene annotation\nby Ensembl ID"}
	variantTool := &fakeTool{name: "get_variant", description: "fetch variant annotation\nby HGVS ID"}

	targets := &fakeAssistant{
		name:        "opentargets",
		description: "drug target associations\nfrom Open Targets",
		tools:       []tools.ITool{searchTool, geneTool},
	}
	genes := &fakeAssistant{
		name:        "mygene",
		description: "gene annotations\nfrom MyGene.info",
		tools:       []tools.ITool{geneTool, variantTool},
	}

	descr := agent.GetDescriptions(targets, genes)
	exp := "\n```json" + `
{
	"Assistants": [
		{
			"Name": "opentargets",
			"Description": "drug target associations. from Open Targets."
		},
		{
			"Name": "mygene",
			"Description": "gene annotations. from MyGene.info."
		}
	]
}
` + "```\n"
	assert.Equal(t, exp, descr)

	descr = agent.GetDescriptionsWithTools(targets, genes)
	exp = "\n```json" + `
{
	"Assistants": [
		{
			"Name": "opentargets",
			"Description": "drug target associations. from Open Targets.",
			"Tools": [
				{
					"Name": "search_targets",
					"Description": "search drug targets. by symbol."
				},
				{
					"Name": "get_gene",
					"Description": "fetch gene annotation. by Ensembl ID."
				}
			]
		},
		{
			"Name": "mygene",
			"Description": "gene annotations. from MyGene.info.",
			"Tools": [
				{
					"Name": "get_gene",
					"Description": "fetch gene annotation. by Ensembl ID."
				},
				{
					"Name": "get_variant",
					"Description": "fetch variant annotation. by HGVS ID."
				}
			]
		}
	]
}
` + "```\n"
	assert.Equal(t, exp, descr)
}

type fakeAssistant struct {
	name        string
	description string
	tools       []tools.ITool
}

var _ agent.IAssistant = (*fakeAssistant)(nil)

func (f *fakeAssistant) Name() string {
	return f.name
}

func (f *fakeAssistant) Description() string {
	return values.StringsCoalesce(f.description, "useful assistant")
}

func (f *fakeAssistant) GetTools() []tools.ITool {
	return f.tools
}

func (f *fakeAssistant) Call(ctx context.Context, input *agent.CallInput) (*llms.ContentResponse, error) {
	return nil, nil
}

type fakeTool struct {
	name        string
	description string
}

var _ tools.ITool = (*fakeTool)(nil)

func (f *fakeTool) Name() string {
	return f.name
}

func (f *fakeTool) Description() string {
	return values.StringsCoalesce(f.description, "useful tool")
}

func (f *fakeTool) Parameters() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "object"}
}

func (f *fakeTool) Call(context.Context, string) (string, error) {
	return "", nil
}
