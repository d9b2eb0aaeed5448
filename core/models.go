package core

// Job status lifecycle. Created as StatusProcessing before background work
// starts; the owning task sets the terminal state exactly once.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Modalities used to namespace vector collections per project.
const (
	ModalityFrames   = "frames"
	ModalityCaptions = "captions"
	ModalityPersons  = "persons"
)

// Video is the metadata-store record for one uploaded or downloaded video.
// Duration is nil until a transcription or probe backfills it.
type Video struct {
	ID          string   `json:"id"`
	Filename    string   `json:"filename"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        string   `json:"tags"`
	Duration    *float64 `json:"duration,omitempty"`
}

// SampledFrame is one frame emitted by the sampler. Timestamp uses the
// HH.MM.SS encoding with '.' separators; downstream matching parses it
// back, so the format is load-bearing.
type SampledFrame struct {
	Timestamp string `json:"timestamp"`
	ImagePath string `json:"image_path"`
	ImageLink string `json:"image_link"`
}

type FrameRecord struct {
	AnalysisID string    `json:"analysisId"`
	Timestamp  string    `json:"timestamp"`
	ImageLink  string    `json:"imageLink"`
	Embedding  []float32 `json:"clipEmbedding"`
}

type CaptionRecord struct {
	AnalysisID string    `json:"analysisId"`
	Timestamp  string    `json:"timestamp"`
	ImageLink  string    `json:"imageLink"`
	Caption    string    `json:"caption"`
	Embedding  []float32 `json:"captionEmbedding"`
}

// PersonRecord is a deduplication record, not an identity match: PersonUID
// is a hash of the exact cropped pixel bytes. Identical crops collapse to
// one uid; a crop that differs by a single pixel gets a different uid.
type PersonRecord struct {
	AnalysisID string    `json:"analysisId"`
	Timestamp  string    `json:"timestamp"`
	ImageLink  string    `json:"imageLink"`
	PersonUID  string    `json:"personUid"`
	Embedding  []float32 `json:"clipEmbedding"`
}

// TranscriptSegment keeps speech-engine insertion order via Index; segments
// are never re-sorted.
type TranscriptSegment struct {
	TranscriptionID   string  `json:"transcriptionId"`
	Index             int     `json:"segmentIndex"`
	StartingTimestamp string  `json:"startingTimestamp"`
	EndingTimestamp   string  `json:"endingTimestamp"`
	StartSeconds      float64 `json:"startSeconds"`
	EndSeconds        float64 `json:"endSeconds"`
	Text              string  `json:"transcription"`
	RefinedText       string  `json:"refinedTranscription,omitempty"`
	Confidence        float64 `json:"confidence"`
}

// BestText returns the refined transcription when present, else the raw one.
func (s TranscriptSegment) BestText() string {
	if s.RefinedText != "" {
		return s.RefinedText
	}
	return s.Text
}

type VideoSegment struct {
	VideoID           string  `json:"videoId"`
	Index             int     `json:"segmentIndex"`
	StartingTimestamp string  `json:"startingTimestamp"`
	EndingTimestamp   string  `json:"endingTimestamp"`
	StartSeconds      float64 `json:"startSeconds"`
	EndSeconds        float64 `json:"endSeconds"`
	Description       string  `json:"description"`
	Model             string  `json:"model"`
}

type VideoTopic struct {
	VideoID           string  `json:"videoId"`
	Index             int     `json:"topicIndex"`
	StartingTimestamp string  `json:"startingTimestamp"`
	EndingTimestamp   string  `json:"endingTimestamp"`
	StartSeconds      float64 `json:"startSeconds"`
	EndSeconds        float64 `json:"endSeconds"`
	Topic             string  `json:"topic"`
	Model             string  `json:"model"`
}

// TokenUsage is an append-only accounting row, one per LLM call batch.
type TokenUsage struct {
	VideoID          string  `json:"videoId"`
	Operation        string  `json:"operation"`
	Model            string  `json:"model"`
	PromptTokens     int     `json:"promptTokens"`
	CompletionTokens int     `json:"completionTokens"`
	TotalTokens      int     `json:"totalTokens"`
	Cost             float64 `json:"cost"`
}

// JobRef identifies a job record of a given kind in the metadata store.
type JobRef struct {
	ID   string `json:"id"`
	Kind string `json:"kind"` // frame_analysis, transcription, summarization
}
