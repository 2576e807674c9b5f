package mcp

// ToolDefinitions returns the MCP tool definitions for the casegen server.
func ToolDefinitions() []ToolDefinition {
	return []ToolDefinition{
		{
			Name: "testcase_dispatch",
			Description: "Generate test cases for a feature request, or enhance the test cases already in a session. " +
				"Returns the session ID and the resulting test case table. " +
				"Pass the returned sessionId on follow-up requests to refine the same suite.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"message":   {Type: "string", Description: "The feature description or change request"},
					"sessionId": {Type: "string", Description: "Existing session to continue; omit to start a new one"},
					"userId":    {Type: "string", Description: "Owner of the session (defaults to the configured user)"},
					"flowHint": {Type: "string", Description: "Force a flow instead of letting the router classify the message",
						Enum: []string{"generation", "enhancement"}},
					"newSession": {Type: "boolean", Description: "Start a fresh session even if sessionId is set",
						Default: false},
				},
				Required: []string{"message"},
			},
		},
		{
			Name:        "session_clear",
			Description: "Clear the working state of a session (current test cases, requirements, history of suites). The conversation history is kept.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"sessionId": {Type: "string", Description: "ID of the session to clear"},
				},
				Required: []string{"sessionId"},
			},
		},
		{
			Name: "corpus_search",
			Description: "Search the requirements or compliance corpus. " +
				"Useful to check which documents the generator will see for a feature.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"corpus": {Type: "string", Description: "Corpus to search",
						Enum: []string{"requirements", "compliance"}},
					"query": {Type: "string", Description: "Natural language search query"},
					"topK": {Type: "number", Description: "Maximum results to return (default 5)",
						Default: 5},
				},
				Required: []string{"corpus", "query"},
			},
		},
	}
}
