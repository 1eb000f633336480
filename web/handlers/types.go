package handlers

// ErrorResponse is the standard error response format for the API.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// RememberRequest is the body of POST /api/memories.
type RememberRequest struct {
	ThreadID   string   `json:"thread_id"`
	Content    string   `json:"content"`
	Importance float64  `json:"importance"`
	Tags       []string `json:"tags,omitempty"`
	ExpiresIn  string   `json:"expires_in,omitempty"` // Go duration, e.g. "48h"
}

// ScheduleRequest is the body of POST /api/tasks.
type ScheduleRequest struct {
	ThreadID   string `json:"thread_id"`
	DueAt      string `json:"due_at"` // RFC 3339
	Kind       string `json:"kind"`
	Payload    string `json:"payload,omitempty"`
	Recurrence string `json:"recurrence,omitempty"`
}

// ScheduleResponse is the response of POST /api/tasks.
type ScheduleResponse struct {
	TaskID string `json:"task_id"`
}

// MessageRequest is the body of POST /api/messages: one incoming user
// message for which the caller wants the assembled context.
type MessageRequest struct {
	ThreadID string `json:"thread_id"`
	Text     string `json:"text"`
}
