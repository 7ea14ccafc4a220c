package domain

import (
	"encoding/json"
	"time"
)

// ToolUseType discriminates tool invocation records.
type ToolUseType string

const (
	ToolUseCall   ToolUseType = "tool-call"
	ToolUseResult ToolUseType = "tool-result"
)

// AnnotationStatus is the progress state of a long-running tool invocation.
type AnnotationStatus string

const (
	AnnotationProcessing AnnotationStatus = "processing"
	AnnotationComplete   AnnotationStatus = "complete"
	AnnotationFailed     AnnotationStatus = "failed"
)

// ToolAnnotation is an incremental progress event attached to a tool use.
// Annotations are streamed to connected clients as they occur.
type ToolAnnotation struct {
	ID        string           `json:"id"`
	Status    AnnotationStatus `json:"status"`
	Message   string           `json:"message,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// ToolUse records an agent tool invocation attached to a message.
type ToolUse struct {
	Type        ToolUseType      `json:"type"`
	ToolCallID  string           `json:"toolCallId"`
	ToolName    string           `json:"toolName"`
	Args        json.RawMessage  `json:"args,omitempty"`
	Result      json.RawMessage  `json:"result,omitempty"`
	Annotations []ToolAnnotation `json:"annotations,omitempty"`
}
