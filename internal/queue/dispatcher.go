package queue

import (
	"context"

	"go.uber.org/zap"

	"github.com/kilupskalvis/repodeploy/internal/backend"
	"github.com/kilupskalvis/repodeploy/internal/models"
)

// Request asks for a commit to be queued and attempted.
type Request struct {
	Identifier string
	Message    string
	FilePath   *string

	reply chan Response
}

// Response is the outcome of a Request.
type Response struct {
	Item   *models.QueueItem
	Result backend.Result
	Err    error
}

// Dispatcher serializes commit requests from any number of producers
// through a single worker.
type Dispatcher struct {
	queue    *Queue
	requests chan *Request
	logger   *zap.Logger
}

// NewDispatcher returns a dispatcher with room for buffer waiting requests.
func NewDispatcher(q *Queue, buffer int, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{queue: q, requests: make(chan *Request, buffer), logger: logger}
}

// Submit hands a request to the worker and waits for its outcome.
func (d *Dispatcher) Submit(ctx context.Context, req Request) (Response, error) {
	req.reply = make(chan Response, 1)
	select {
	case d.requests <- &req:
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}

	select {
	case resp := <-req.reply:
		return resp, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// Run processes requests until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Debug("commit dispatcher started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-d.requests:
			// A started commit runs to completion even if the caller gave up.
			item, res, err := d.queue.Enqueue(context.WithoutCancel(ctx), req.Identifier, req.Message, req.FilePath)
			req.reply <- Response{Item: item, Result: res, Err: err}
		}
	}
}
