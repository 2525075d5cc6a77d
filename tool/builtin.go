package tool

import (
	"fmt"

	"github.com/hupe1980/agentrun/core"
)

// Built-in tool names.
const (
	GetChatHistoryName     = "get_chat_history"
	GetToolCallHistoryName = "get_tool_call_history"
	SearchKnowledgeName    = "search_knowledge_base"
	AddToKnowledgeName     = "add_to_knowledge_base"
)

type chatHistoryArgs struct {
	NumChats int `json:"num_chats,omitempty" jsonschema_description:"Number of most recent exchanges to return. Defaults to 3."`
}

type toolCallHistoryArgs struct {
	NumCalls int `json:"num_calls,omitempty" jsonschema_description:"Number of most recent tool calls to return. Defaults to 3."`
}

type searchKnowledgeArgs struct {
	Query string `json:"query" jsonschema_description:"The query to search for."`
}

type addKnowledgeArgs struct {
	Query  string `json:"query" jsonschema_description:"The query that produced the result."`
	Result string `json:"result" jsonschema_description:"The information to store."`
}

type chatEntry struct {
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}

type toolCallEntry struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
	Result    string `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
	Status    string `json:"status"`
}

// NewChatHistoryTool returns get_chat_history: the most recent exchanges of
// the session in chronological order.
func NewChatHistoryTool() *FunctionTool {
	return NewTypedTool(GetChatHistoryName,
		"Use this function to get the chat history between the user and assistant.",
		func(toolCtx *core.ToolContext, args chatHistoryArgs) (any, error) {
			mem := toolCtx.Memory()
			if mem == nil {
				return []chatEntry{}, nil
			}
			n := args.NumChats
			if n <= 0 {
				n = 3
			}
			chats := mem.LastNChats(n)
			toolCtx.LogDebug("memory.chats.read", "requested", n, "returned", len(chats))
			out := make([]chatEntry, 0, len(chats))
			for _, c := range chats {
				out = append(out, chatEntry{User: c.User.Content, Assistant: c.Assistant.Content})
			}
			return out, nil
		})
}

// NewToolCallHistoryTool returns get_tool_call_history: recent tool calls,
// most recent first.
func NewToolCallHistoryTool() *FunctionTool {
	return NewTypedTool(GetToolCallHistoryName,
		"Use this function to get the tools called in this session, most recent first.",
		func(toolCtx *core.ToolContext, args toolCallHistoryArgs) (any, error) {
			mem := toolCtx.Memory()
			if mem == nil {
				return []toolCallEntry{}, nil
			}
			n := args.NumCalls
			if n <= 0 {
				n = 3
			}
			calls := mem.ToolCalls(n)
			out := make([]toolCallEntry, 0, len(calls))
			for _, c := range calls {
				out = append(out, toolCallEntry{
					Name:      c.Name,
					Arguments: c.Arguments,
					Result:    c.Result,
					Error:     c.Error,
					Status:    string(c.Status),
				})
			}
			return out, nil
		})
}

// NewSearchKnowledgeTool returns search_knowledge_base over the bound
// retriever. limit <= 0 lets the retriever choose.
func NewSearchKnowledgeTool(limit int) *FunctionTool {
	return NewTypedTool(SearchKnowledgeName,
		"Use this function to search the knowledge base for information about a query.",
		func(toolCtx *core.ToolContext, args searchKnowledgeArgs) (any, error) {
			if err := contextErr(toolCtx.Context(), SearchKnowledgeName); err != nil {
				return nil, err
			}
			docs, err := toolCtx.SearchKnowledge(args.Query, limit)
			if err != nil {
				return nil, err
			}
			toolCtx.LogDebug("knowledge.search", "query", args.Query, "hits", len(docs))
			if len(docs) == 0 {
				return "No documents found", nil
			}
			return docs, nil
		})
}

// NewAddToKnowledgeTool returns add_to_knowledge_base. The bound retriever
// must implement core.KnowledgeWriter.
func NewAddToKnowledgeTool() *FunctionTool {
	return NewTypedTool(AddToKnowledgeName,
		"Use this function to add information to the knowledge base for future use.",
		func(toolCtx *core.ToolContext, args addKnowledgeArgs) (any, error) {
			doc := core.Document{
				Content: args.Result,
				Source:  args.Query,
				Metadata: map[string]string{
					"session_id": toolCtx.SessionID(),
				},
			}
			if err := toolCtx.AddKnowledge(doc); err != nil {
				return nil, fmt.Errorf("add to knowledge base: %w", err)
			}
			toolCtx.LogInfo("knowledge.added", "source", args.Query)
			return "Successfully added to knowledge base", nil
		})
}
