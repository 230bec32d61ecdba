package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/contract-analyzer/internal/core/domain"
	"github.com/kirillkom/contract-analyzer/internal/infrastructure/resilience"
)

// AnalysisJob asks a worker to analyze a document already present on shared storage.
type AnalysisJob struct {
	Path string `json:"path"`
}

// AnalysisReply carries either the run result or the failure message.
type AnalysisReply struct {
	Result *domain.AnalysisResult `json:"result,omitempty"`
	Error  string                 `json:"error,omitempty"`
	Kind   string                 `json:"kind,omitempty"`
}

// AnalysisHandler runs one job on the worker side.
type AnalysisHandler func(ctx context.Context, job AnalysisJob) (*domain.AnalysisResult, error)

type Queue struct {
	conn     *nats.Conn
	subject  string
	executor *resilience.Executor
	logger   *slog.Logger
}

func New(url, subject string) (*Queue, error) {
	return NewWithOptions(url, subject, Options{})
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
}

func NewWithOptions(url, subject string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(
		url,
		nats.Name("contract-analyzer"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:     conn,
		subject:  subject,
		executor: options.ResilienceExecutor,
		logger:   logger,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

// RequestAnalysis sends a job and waits for the worker reply until ctx expires.
func (q *Queue) RequestAnalysis(ctx context.Context, path string) (*domain.AnalysisResult, error) {
	payload, err := json.Marshal(AnalysisJob{Path: path})
	if err != nil {
		return nil, fmt.Errorf("marshal analysis job: %w", err)
	}

	call := func(callCtx context.Context) (*nats.Msg, error) {
		msg, err := q.conn.RequestWithContext(callCtx, q.subject, payload)
		if err != nil {
			return nil, fmt.Errorf("nats request: %w", err)
		}
		return msg, nil
	}

	var msg *nats.Msg
	if q.executor != nil {
		msg, err = resilience.Call(ctx, q.executor, "nats.request", call, classifyNATSError)
	} else {
		msg, err = call(ctx)
	}
	if err != nil {
		return nil, wrapTemporaryIfNeeded(err)
	}
	return decodeReply(msg.Data)
}

// ServeAnalysis answers jobs in the "workers" queue group until ctx is cancelled, then
// drains the subscription.
func (q *Queue) ServeAnalysis(ctx context.Context, handler AnalysisHandler) error {
	sub, err := q.conn.QueueSubscribe(q.subject, "workers", func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		reply := handleJob(handlerCtx, msg.Data, handler)
		if reply.Error != "" {
			q.logger.Warn("analysis_job_failed", "error", reply.Error, "kind", reply.Kind)
		}
		if msg.Reply == "" {
			return
		}
		data, err := json.Marshal(reply)
		if err != nil {
			q.logger.Error("analysis_reply_marshal_failed", "error", err)
			return
		}
		if err := msg.Respond(data); err != nil {
			q.logger.Warn("analysis_reply_failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func handleJob(ctx context.Context, data []byte, handler AnalysisHandler) AnalysisReply {
	var job AnalysisJob
	if err := json.Unmarshal(data, &job); err != nil {
		return failureReply(domain.WrapError(domain.ErrInvalidInput, "decode analysis job", err))
	}
	if job.Path == "" {
		return failureReply(domain.WrapError(domain.ErrInvalidInput, "decode analysis job", errors.New("path is required")))
	}
	result, err := handler(ctx, job)
	if err != nil {
		return failureReply(err)
	}
	return AnalysisReply{Result: result}
}

func failureReply(err error) AnalysisReply {
	return AnalysisReply{Error: err.Error(), Kind: errorKind(err)}
}

var replyKinds = []struct {
	name string
	kind error
}{
	{"invalid_input", domain.ErrInvalidInput},
	{"empty_document", domain.ErrEmptyDocument},
	{"configuration", domain.ErrConfiguration},
	{"temporary", domain.ErrTemporary},
	{"not_found", domain.ErrRunNotFound},
}

func errorKind(err error) string {
	for _, k := range replyKinds {
		if domain.IsKind(err, k.kind) {
			return k.name
		}
	}
	return "internal"
}

func decodeReply(data []byte) (*domain.AnalysisResult, error) {
	var reply AnalysisReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return nil, fmt.Errorf("decode analysis reply: %w", err)
	}
	if reply.Error != "" {
		remote := errors.New(reply.Error)
		for _, k := range replyKinds {
			if k.name == reply.Kind {
				return nil, domain.WrapError(k.kind, "analysis worker", remote)
			}
		}
		return nil, fmt.Errorf("analysis worker: %w", remote)
	}
	if reply.Result == nil {
		return nil, errors.New("analysis worker: empty reply")
	}
	return reply.Result, nil
}
