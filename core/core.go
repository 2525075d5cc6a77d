package core

// Log lines written through a ToolContext carry the ids of the session, run
// and call they belong to, ahead of the caller's key/value pairs. A
// RunLogger already carries session and run ids (see NewToolContext).

func (tc *ToolContext) callAttrs(args []any) []any {
	attrs := make([]any, 0, 6+len(args))
	if !tc.runScoped {
		attrs = append(attrs, "session_id", tc.sessionID, "run_id", tc.runID)
	}
	attrs = append(attrs, "tool_call_id", tc.toolCallID)
	return append(attrs, args...)
}

// LogDebug logs a debug message scoped to the current call.
func (tc *ToolContext) LogDebug(msg string, args ...any) {
	tc.logger.Debug(msg, tc.callAttrs(args)...)
}

// LogInfo logs an info message scoped to the current call.
func (tc *ToolContext) LogInfo(msg string, args ...any) {
	tc.logger.Info(msg, tc.callAttrs(args)...)
}

// LogWarn logs a warning scoped to the current call.
func (tc *ToolContext) LogWarn(msg string, args ...any) {
	tc.logger.Warn(msg, tc.callAttrs(args)...)
}

// LogError logs an error scoped to the current call.
func (tc *ToolContext) LogError(msg string, args ...any) {
	tc.logger.Error(msg, tc.callAttrs(args)...)
}
