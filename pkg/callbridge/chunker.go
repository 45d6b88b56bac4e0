package callbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const (
	defaultLogPostTimeout = 5 * time.Second
	defaultChunkThreshold = 5
)

// logEntry is the wire shape of one transcript entry in a send_chunk
// payload (spec.md §6.3): `name` is the speaker label, `transcription` is
// the text.
type logEntry struct {
	Name          string `json:"name"`
	Transcription string `json:"transcription"`
}

// Chunker is the Transcript Chunker & Log Shipper (C5). It ships
// last_shipped_index forward only on a successful (200) response,
// guaranteeing contiguous, non-overlapping delivery (spec.md §4.5).
type Chunker struct {
	logEndpoint string
	threshold   int
	httpClient  *http.Client
	logger      Logger
}

// NewChunker builds a shipper targeting logEndpoint, shipping whenever at
// least threshold new entries have accumulated.
func NewChunker(logEndpoint string, threshold int, logger Logger) *Chunker {
	if threshold <= 0 {
		threshold = defaultChunkThreshold
	}
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &Chunker{
		logEndpoint: logEndpoint,
		threshold:   threshold,
		httpClient:  &http.Client{Timeout: defaultLogPostTimeout},
		logger:      logger,
	}
}

// Initialize POSTs the call-start payload to {LOG_ENDPOINT}/{call_uuid}.
func (s *Chunker) Initialize(ctx context.Context, call *Call) error {
	payload := map[string]interface{}{
		"call_uuid":    call.CallUUID,
		"file_name":    call.RecordingPath,
		"started_at":   call.StartedAt.UTC().Format(time.RFC3339),
		"custom_params": call.CustomParams,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/%s", s.logEndpoint, call.CallUUID)
	return s.post(ctx, url, body)
}

// MaybeShip ships a chunk if the unshipped entry count has reached the
// threshold. It never blocks the session loop beyond the chunk's own HTTP
// timeout and never retries synchronously; a failed ship simply leaves
// last_shipped_index unchanged so the next trigger retries the same
// range.
func (s *Chunker) MaybeShip(ctx context.Context, call *Call) {
	unshipped, total := call.TranscriptsSince(call.LastShippedIndex())
	if len(unshipped) < s.threshold {
		return
	}
	s.ship(ctx, call, unshipped, total, false)
}

// ShipFinal issues the terminal-phase ship with is_final=true regardless
// of threshold, including when the unshipped set is empty.
func (s *Chunker) ShipFinal(ctx context.Context, call *Call) {
	unshipped, total := call.TranscriptsSince(call.LastShippedIndex())
	s.ship(ctx, call, unshipped, total, true)
}

func (s *Chunker) ship(ctx context.Context, call *Call, entries []TranscriptEntry, total int, isFinal bool) {
	chunkIndex := call.LastShippedIndex()

	wire := make([]logEntry, len(entries))
	for i, e := range entries {
		wire[i] = logEntry{Name: string(e.Speaker), Transcription: e.Text}
	}

	payload := map[string]interface{}{
		"call_uuid":     call.CallUUID,
		"file_name":     call.RecordingPath,
		"transcription": wire,
		"is_final":      isFinal,
		"chunk_index":   chunkIndex,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("failed to marshal log chunk", "call_uuid", call.CallUUID, "error", err)
		return
	}

	url := fmt.Sprintf("%s/%s/send_chunk", s.logEndpoint, call.CallUUID)
	if err := s.post(ctx, url, body); err != nil {
		s.logger.Warn("log chunk post failed, will retry on next trigger", "call_uuid", call.CallUUID, "error", err)
		return
	}

	call.AdvanceLastShippedIndex(total)
}

func (s *Chunker) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("log receiver returned status %d", resp.StatusCode)
	}
	return nil
}
