package command

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/picorelay/internal/domain"
	apperrors "github.com/pscheid92/picorelay/internal/errors"
	"github.com/pscheid92/picorelay/internal/metrics"
	"github.com/pscheid92/picorelay/internal/platform/correlation"
	"github.com/pscheid92/picorelay/internal/worker"
)

const (
	msgPictureTaken   = "Picture taken!"
	msgPictureFailed  = "Error taking picture."
	msgDisplayAck     = "Text sent to display"
	msgOLEDAck        = "Text sent to OLED"
	workerCapture     = "capture"
	workerAnalysis    = "analysis"
	resultSuccess     = "success"
	resultFailure     = "failure"
	resultRejected    = "rejected"
	audioVersionParam = "?v="
)

// Runner runs one external worker process.
type Runner interface {
	Run(ctx context.Context, inv worker.Invocation) (worker.Result, error)
}

// Config holds the command targets.
type Config struct {
	DisplayTopic   string
	OLEDTopic      string
	PublishTimeout time.Duration // 0 = wait for ctx only
	PythonBin      string
	CaptureScript  string
	AnalyzeScript  string
	WorkerDir      string
	AudioURLPath   string
}

// Outcome is the single resolution of a Request. Event goes to the
// requesting connection; the HTTP fields serve the request/response routes.
type Outcome struct {
	Event domain.Event
	Err   *apperrors.Error
	body  any
}

// Success reports whether the command resolved successfully.
func (o Outcome) Success() bool { return o.Err == nil }

// HTTPStatus is 200 on success, otherwise derived from the error type.
func (o Outcome) HTTPStatus() int {
	if o.Err != nil {
		return o.Err.HTTPStatus()
	}
	return http.StatusOK
}

// HTTPBody is {success, output|message} on success and the structured
// error response otherwise.
func (o Outcome) HTTPBody() any {
	if o.Err != nil {
		return o.Err.ToResponse()
	}
	return o.body
}

type handlerFunc func(ctx context.Context, req Request, logger *slog.Logger) Outcome

// Orchestrator dispatches requests through a fixed handler table.
type Orchestrator struct {
	cfg       Config
	publisher domain.Publisher
	runner    Runner
	clock     clockwork.Clock
	newToken  func() string
	handlers  map[Kind]handlerFunc
}

// NewOrchestrator creates an orchestrator publishing through publisher and
// running workers through runner.
func NewOrchestrator(cfg Config, publisher domain.Publisher, runner Runner, clock clockwork.Clock) *Orchestrator {
	o := &Orchestrator{
		cfg:       cfg,
		publisher: publisher,
		runner:    runner,
		clock:     clock,
		newToken:  func() string { return uuid.NewString() },
	}
	o.handlers = map[Kind]handlerFunc{
		KindDisplayText:  o.publishText(cfg.DisplayTopic, domain.EventDisplayAck, domain.EventDisplayError, msgDisplayAck),
		KindSendToOLED:   o.publishText(cfg.OLEDTopic, domain.EventOLEDAck, domain.EventOLEDError, msgOLEDAck),
		KindTakePicture:  o.takePicture,
		KindAnalyzeImage: o.analyzeImage,
	}
	return o
}

// Dispatch resolves req exactly once. It blocks until the publish is
// acknowledged or the worker exits; callers serving a push connection run
// it on its own goroutine.
func (o *Orchestrator) Dispatch(ctx context.Context, req Request) Outcome {
	ctx, _ = correlation.Ensure(ctx)
	kind := req.Kind.String()
	logger := slog.With("command", kind)
	start := o.clock.Now()

	logger.InfoContext(ctx, "Command received")

	handler, ok := o.handlers[req.Kind]
	if !ok {
		out := Outcome{
			Event: domain.Event{Name: domain.EventCommandError, Data: errorPayload(domain.ErrUnknownCommand.Error())},
			Err:   apperrors.AsStructuredError(domain.ErrUnknownCommand),
		}
		o.finish(ctx, logger, kind, start, out)
		return out
	}

	metrics.CommandsInFlight.WithLabelValues(kind).Inc()
	defer metrics.CommandsInFlight.WithLabelValues(kind).Dec()

	out := handler(ctx, req, logger)
	o.finish(ctx, logger, kind, start, out)
	return out
}

func (o *Orchestrator) finish(ctx context.Context, logger *slog.Logger, kind string, start time.Time, out Outcome) {
	elapsed := o.clock.Since(start)
	result := resultSuccess
	switch {
	case out.Err != nil && out.Err.Type == apperrors.TypeValidation:
		result = resultRejected
	case out.Err != nil:
		result = resultFailure
	}

	metrics.CommandsTotal.WithLabelValues(kind, result).Inc()
	metrics.CommandDuration.WithLabelValues(kind).Observe(elapsed.Seconds())

	if out.Err != nil {
		logger.WarnContext(ctx, "Command resolved", "result", result, "event", out.Event.Name, "duration", elapsed, "error", out.Err)
		return
	}
	logger.InfoContext(ctx, "Command resolved", "result", result, "event", out.Event.Name, "duration", elapsed)
}

func (o *Orchestrator) publishText(topic, ackEvent, errEvent, ackMessage string) handlerFunc {
	return func(ctx context.Context, req Request, logger *slog.Logger) Outcome {
		if req.Text == "" {
			logger.InfoContext(ctx, "Command rejected", "reason", domain.ErrEmptyText)
			return failed(errEvent, apperrors.ValidationError(domain.ErrEmptyText.Error()))
		}

		logger.DebugContext(ctx, "Command dispatching", "topic", topic)
		if o.cfg.PublishTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, o.cfg.PublishTimeout)
			defer cancel()
		}
		if err := o.publisher.Publish(ctx, topic, req.Text); err != nil {
			return failed(errEvent, apperrors.PublishError(topic, err))
		}

		return Outcome{
			Event: domain.Event{Name: ackEvent, Data: map[string]string{"message": ackMessage}},
			body:  map[string]any{"success": true, "message": ackMessage},
		}
	}
}

func (o *Orchestrator) takePicture(ctx context.Context, _ Request, logger *slog.Logger) Outcome {
	logger.DebugContext(ctx, "Command dispatching", "worker", workerCapture)
	res, err := o.runner.Run(ctx, worker.Invocation{
		Name:    workerCapture,
		Program: o.cfg.PythonBin,
		Args:    []string{o.cfg.CaptureScript},
		Dir:     o.cfg.WorkerDir,
	})
	if err != nil {
		return Outcome{
			Event: domain.Event{Name: domain.EventPictureTaken, Data: pictureTaken{Success: false, Message: msgPictureFailed}},
			Err:   apperrors.ProcessError(workerCapture, processCause(err, res)),
		}
	}

	return Outcome{
		Event: domain.Event{Name: domain.EventPictureTaken, Data: pictureTaken{Success: true, Message: msgPictureTaken}},
		body:  map[string]any{"success": true, "output": res.Stdout},
	}
}

func (o *Orchestrator) analyzeImage(ctx context.Context, req Request, logger *slog.Logger) Outcome {
	if req.Prompt == "" {
		logger.InfoContext(ctx, "Command rejected", "reason", domain.ErrEmptyPrompt)
		return failed(domain.EventAnalysisError, apperrors.ValidationError(domain.ErrEmptyPrompt.Error()))
	}

	logger.DebugContext(ctx, "Command dispatching", "worker", workerAnalysis)
	res, err := o.runner.Run(ctx, worker.Invocation{
		Name:    workerAnalysis,
		Program: o.cfg.PythonBin,
		Args:    []string{o.cfg.AnalyzeScript, req.Prompt},
		Dir:     o.cfg.WorkerDir,
	})
	if err != nil {
		return failed(domain.EventAnalysisError, apperrors.ProcessError(workerAnalysis, processCause(err, res)))
	}

	audioPath := o.cfg.AudioURLPath + audioVersionParam + o.newToken()
	return Outcome{
		Event: domain.Event{Name: domain.EventAnalysisComplete, Data: map[string]string{"audioPath": audioPath}},
		body:  map[string]any{"success": true, "output": res.Stdout},
	}
}

type pictureTaken struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func failed(event string, err *apperrors.Error) Outcome {
	return Outcome{
		Event: domain.Event{Name: event, Data: errorPayload(err.Detail())},
		Err:   err,
	}
}

func errorPayload(msg string) map[string]string {
	return map[string]string{"error": msg}
}

// processCause keeps exit errors as-is (they already carry stderr) and
// adds stderr to anything else.
func processCause(err error, res worker.Result) error {
	var exitErr *worker.ExitError
	if errors.As(err, &exitErr) || res.Stderr == "" {
		return err
	}
	return errors.Join(err, errors.New(res.Stderr))
}
