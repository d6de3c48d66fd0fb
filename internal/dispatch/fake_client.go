package dispatch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/sirupsen/logrus"

	"swaprelay/internal/contract"
)

// FakeClient records envelopes and derives deterministic receipt ids from the payload.
type FakeClient struct {
	mu   sync.Mutex
	sent []contract.Envelope
	Log  logrus.FieldLogger
}

func (f *FakeClient) Dispatch(_ context.Context, env contract.Envelope) (Receipt, error) {
	f.mu.Lock()
	f.sent = append(f.sent, env)
	f.mu.Unlock()

	id := fakeHash(env.JobID, env.Payload)
	if f.Log != nil {
		f.Log.WithFields(logrus.Fields{
			"job_id":  env.JobID,
			"payload": "0x" + hex.EncodeToString(env.Payload),
			"id":      id,
		}).Info("dry-run dispatch")
	}
	return Receipt{ID: id}, nil
}

// Sent returns a copy of every envelope dispatched so far.
func (f *FakeClient) Sent() []contract.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]contract.Envelope, len(f.sent))
	copy(out, f.sent)
	return out
}

func fakeHash(jobID string, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(jobID))
	h.Write(payload)
	return "0x" + hex.EncodeToString(h.Sum(nil))
}
