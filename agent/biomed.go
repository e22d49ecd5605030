package agent

import (
	"fmt"
	"strings"

	"github.com/effective-security/biomcp/chatmodel"
	"github.com/effective-security/biomcp/encoding"
	"github.com/effective-security/biomcp/hub"
	"github.com/effective-security/biomcp/pkg/llms"
	"github.com/effective-security/biomcp/pkg/prompts"
	"github.com/effective-security/biomcp/tools/mcptool"
)

// researcherPrompt is the system prompt of the biomedical research assistant.
// The tool definitions themselves are passed to the LLM natively,
// the prompt carries the persona and the identifier conventions
// the databases expect.
const researcherPrompt = `You are a biomedical research assistant with access to multiple specialized databases.

Connected databases:
{{.servers}}

Important guidelines:
1. Use the EXACT tool names and parameter names from the tool definitions.
2. For drug queries: first search by name to get the ChEMBL ID, then use that ID for detailed info.
3. Pay attention to required vs optional parameters.
4. Common ID formats:
   - ChEMBL IDs: CHEMBLXXXXXX (e.g., CHEMBL1229517)
   - Ensembl IDs: ENSGXXXXXXXXXX (e.g., ENSG00000157764)
   - EFO IDs: EFO_XXXXXXX (e.g., EFO_0000270)

Answer the user's question based on the tool results, naming the identifiers you resolved along the way.
If the available tools cannot answer the question, say so instead of guessing.`

// Researcher is the biomedical research assistant.
// It answers in plain text, so the output type is a plain string.
type Researcher = Assistant[chatmodel.String]

// NewResearcher creates the biomedical research assistant over the tools
// discovered on the connected MCP servers of the registry.
func NewResearcher(llmModel llms.Model, registry *hub.Registry, options ...Option) (*Researcher, error) {
	list, err := mcptool.FromRegistry(registry)
	if err != nil {
		return nil, err
	}

	opts := append([]Option{
		WithMode(encoding.ModePlainText),
		WithPromptInput(map[string]any{
			"servers": describeServers(registry),
		}),
	}, options...)

	a := NewAssistant[chatmodel.String](llmModel, prompts.NewPromptTemplate(researcherPrompt, []string{"servers"}), opts...).
		WithName("Biomedical Researcher").
		WithDescription("Answers biomedical research questions using the OpenTargets, Monarch, MyGene, MyChem and MyDisease databases.").
		WithTools(list...)
	return a, nil
}

// describeServers renders the connected servers for the system prompt.
func describeServers(registry *hub.Registry) string {
	var b strings.Builder
	for _, srv := range registry.Servers() {
		if !srv.Connected {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s (%d tools)\n", srv.Name, srv.Description, srv.ToolCount)
	}
	if b.Len() == 0 {
		return "- none connected\n"
	}
	return b.String()
}
