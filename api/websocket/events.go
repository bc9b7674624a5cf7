package websocket

// Frame types exchanged with clients.
const (
	eventPong             = "pong"
	eventStreamStart      = "answer_stream_start"
	eventStreamChunk      = "answer_stream_chunk"
	eventStreamEnd        = "answer_stream_end"
	eventStreamError      = "answer_stream_error"
	eventDocumentProgress = "document_progress"
	eventError            = "error"
)

// InboundMessage is what clients send us.
type InboundMessage struct {
	Type           string  `json:"type"`
	Question       string  `json:"question,omitempty"`
	TopK           int     `json:"top_k,omitempty"`
	ScoreThreshold float64 `json:"score_threshold,omitempty"`
	MaxTokens      int     `json:"max_tokens,omitempty"`
	Temperature    float64 `json:"temperature,omitempty"`
}

// StreamEvent is one frame of a streamed answer. IsComplete is a pointer
// so only chunk and end frames carry the field: false while the answer is
// still growing, true on the final frame.
type StreamEvent struct {
	Type       string `json:"type"`
	Question   string `json:"question,omitempty"`
	Content    string `json:"content,omitempty"`
	LLMUsed    string `json:"llm_used,omitempty"`
	IsComplete *bool  `json:"is_complete,omitempty"`
	Timestamp  string `json:"timestamp,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ProgressEvent mirrors the ingestion stage ladder to the uploader.
type ProgressEvent struct {
	Type       string `json:"type"`
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	Stage      string `json:"stage"`
	Progress   int    `json:"progress"`
	Detail     string `json:"detail,omitempty"`
	Timestamp  string `json:"timestamp"`
}
