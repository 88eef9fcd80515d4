// Package evidence persists step outputs flagged save_to_case as case
// evidence objects.
package evidence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"

	"github.com/casehound/casehound/internal/domain"
)

// Store writes evidence objects under
// cases/<case_id>/executions/<execution_id>/<step_id>-<uuid>.json and
// returns the object key as the evidence reference.
type Store struct {
	client *minio.Client
	bucket string
	now    func() time.Time
}

func NewStore(client *minio.Client, bucket string) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("minio client is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	return &Store{client: client, bucket: bucket, now: time.Now}, nil
}

type evidenceEnvelope struct {
	CaseID      string          `json:"case_id"`
	ExecutionID string          `json:"execution_id"`
	StepID      string          `json:"step_id"`
	CapturedAt  time.Time       `json:"captured_at"`
	Output      domain.Metadata `json:"output"`
}

func (s *Store) SaveStepOutput(ctx context.Context, caseID, executionID, stepID string, output domain.Metadata) (string, error) {
	envelope := evidenceEnvelope{
		CaseID:      caseID,
		ExecutionID: executionID,
		StepID:      stepID,
		CapturedAt:  s.now().UTC(),
		Output:      output,
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return "", fmt.Errorf("encode evidence: %w", err)
	}

	key := fmt.Sprintf("cases/%s/executions/%s/%s-%s.json", caseID, executionID, stepID, uuid.NewString())
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("put evidence object: %w", err)
	}
	return key, nil
}
