package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/okian/assay/internal/adapters/mq/queue"
	service "github.com/okian/assay/internal/app"
	"github.com/okian/assay/internal/domain/model"
	"github.com/okian/assay/pkg/logger"
)

const (
	maxIntakeLine = 4 << 20
	intakeBackoff = 20 * time.Millisecond
)

// submitter queues submissions.
type submitter interface {
	Submit(ctx context.Context, sub model.Submission) error
}

type intakeRecord struct {
	Title     string    `json:"title"`
	Text      string    `json:"text"`
	Category  string    `json:"category,omitempty"`
	Embedding []float64 `json:"embedding,omitempty"`
}

// intakeStats counts what happened to each line.
type intakeStats struct {
	Queued     int
	Duplicates int
	Rejected   int
}

func intakeFile(ctx context.Context, path string, s submitter) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open intake: %w", err)
	}
	defer f.Close()
	st, err := intake(ctx, f, s)
	logger.Get().Info(ctx, "intake finished",
		logger.String("path", path),
		logger.Int("queued", st.Queued),
		logger.Int("duplicates", st.Duplicates),
		logger.Int("rejected", st.Rejected))
	return err
}

// intake streams JSON-lines submissions into s. Malformed lines are skipped;
// a full queue is retried until ctx ends.
func intake(ctx context.Context, r io.Reader, s submitter) (intakeStats, error) {
	var st intakeStats
	log := logger.Get().Named("intake")
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxIntakeLine)
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		var rec intakeRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil || rec.Title == "" || rec.Text == "" {
			st.Rejected++
			log.Warn(ctx, "skipping malformed intake line", logger.Int("line", line))
			continue
		}
		sub := model.NewSubmission(rec.Title, rec.Text, rec.Category, rec.Embedding)
		err := submitWithBackoff(ctx, s, sub)
		switch {
		case err == nil:
			st.Queued++
		case errors.Is(err, service.ErrDuplicateSubmission):
			st.Duplicates++
		default:
			return st, fmt.Errorf("line %d: %w", line, err)
		}
	}
	if err := sc.Err(); err != nil {
		return st, fmt.Errorf("read intake: %w", err)
	}
	return st, nil
}

func submitWithBackoff(ctx context.Context, s submitter, sub model.Submission) error {
	for {
		err := s.Submit(ctx, sub)
		if !errors.Is(err, queue.ErrQueueFull) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(intakeBackoff):
		}
	}
}

// jsonLinesSink writes each outcome as one JSON line.
type jsonLinesSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newJSONLinesSink(w io.Writer) *jsonLinesSink {
	return &jsonLinesSink{enc: json.NewEncoder(w)}
}

func (s *jsonLinesSink) Deliver(ctx context.Context, o service.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(o); err != nil {
		logger.Get().Error(ctx, "write outcome", logger.String("submission_id", o.SubmissionID), logger.Error(err))
	}
}
