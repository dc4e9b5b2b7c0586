package fixtures

// Paths names the three files the API needs before it can serve.
type Paths struct {
	AgentConfig   string
	SchemaContext string
	TestCases     string
}

// Bundle is everything loaded from fixtures at startup. It is not reloaded.
type Bundle struct {
	Agent         AgentConfig
	SchemaContext string
	Suite         Suite
}

// LoadBundle loads every startup fixture and stops at the first missing or
// malformed file, returning its ConfigurationError.
func LoadBundle(paths Paths) (Bundle, error) {
	agent, err := LoadAgentConfig(paths.AgentConfig)
	if err != nil {
		return Bundle{}, err
	}
	schemaContext, err := LoadSchemaContext(paths.SchemaContext)
	if err != nil {
		return Bundle{}, err
	}
	suite, err := LoadSuite(paths.TestCases)
	if err != nil {
		return Bundle{}, err
	}
	return Bundle{Agent: agent, SchemaContext: schemaContext, Suite: suite}, nil
}

func (b Bundle) SystemPrompt() string {
	return ComposeSystemPrompt(b.Agent, b.SchemaContext)
}
