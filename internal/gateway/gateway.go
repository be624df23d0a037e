// Package gateway routes clinical generation requests to the active
// backend. Requests bound for a cloud backend are stripped of patient
// identity before they leave the process and restored on the way back.
package gateway

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/raaihank/medgateway/internal/anonymize"
	"github.com/raaihank/medgateway/internal/audit"
	"github.com/raaihank/medgateway/internal/logger"
	"github.com/raaihank/medgateway/internal/provider"
)

// Extractor finds identity spans in text
type Extractor interface {
	Extract(ctx context.Context, text string) (anonymize.PIIResult, error)
}

// Substituter builds the per-request reversible mapping
type Substituter interface {
	Prepare(identity anonymize.Context, pii anonymize.PIIResult, texts ...string) *anonymize.Mapping
}

// Pseudonymizer fabricates a pseudonym for an identity. Generated words
// must not occur in any of avoid.
type Pseudonymizer interface {
	Generate(realIdentity string, avoid ...string) (anonymize.Context, error)
}

// Request is one ChatOrGenerate call
type Request struct {
	RequestID       string
	SystemPrompt    string
	Messages        []provider.Message
	PatientIdentity string
	// Pseudonym is optional. One is generated when empty.
	Pseudonym string
	MaxTokens int
}

// Result is the outcome of one call
type Result struct {
	RequestID          string
	Outcome            Outcome
	Text               string
	Err                error
	Provider           string
	Model              string
	Anonymized         bool
	Replacements       int
	ExtractionDegraded bool
	Duration           time.Duration
}

// Success reports whether the call produced a reply
func (r Result) Success() bool { return r.Outcome == OutcomeDone }

// ErrorMessage returns the human-readable failure, or "" for successful
// and cancelled calls.
func (r Result) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Option customizes a Gateway
type Option func(*Gateway)

// WithObserver registers a state transition observer
func WithObserver(o Observer) Option {
	return func(g *Gateway) { g.observers = append(g.observers, o) }
}

// WithRecorder stores request metadata after every call
func WithRecorder(r audit.Recorder) Option {
	return func(g *Gateway) { g.recorder = r }
}

// WithRequestListener is told about every finished call. Entries hold
// metadata only.
func WithRequestListener(fn func(audit.Entry)) Option {
	return func(g *Gateway) { g.onRequest = fn }
}

// Gateway is safe for concurrent use. It keeps no per-request state.
type Gateway struct {
	factory    *Factory
	extractor  Extractor
	engine     Substituter
	pseudonyms Pseudonymizer
	observers  []Observer
	recorder   audit.Recorder
	onRequest  func(audit.Entry)
	logger     *logger.Logger
}

// New creates a gateway. extractor may be nil to disable extraction.
func New(factory *Factory, extractor Extractor, engine Substituter, pseudonyms Pseudonymizer, log *logger.Logger, opts ...Option) *Gateway {
	g := &Gateway{
		factory:    factory,
		extractor:  extractor,
		engine:     engine,
		pseudonyms: pseudonyms,
		recorder:   audit.Nop{},
		logger:     log.WithComponent("gateway"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Factory returns the provider factory the gateway routes through
func (g *Gateway) Factory() *Factory { return g.factory }

type call struct {
	g      *Gateway
	id     string
	state  State
	local  bool
	start  time.Time
	result Result
	logger *logger.Logger
}

func (c *call) to(next State) {
	prev := c.state
	c.state = next
	for _, o := range c.g.observers {
		o(c.id, prev, next)
	}
}

func (c *call) fail(err error) Result {
	c.to(Failed)
	c.result.Outcome = OutcomeFailed
	c.result.Err = err
	c.result.Text = ""
	return c.result
}

func (c *call) cancel() Result {
	c.to(Cancelled)
	c.result.Outcome = OutcomeCancelled
	c.result.Err = nil
	c.result.Text = ""
	return c.result
}

func (c *call) done(text string) Result {
	c.to(Done)
	c.result.Outcome = OutcomeDone
	c.result.Text = text
	return c.result
}

// checkpoint ends the call when ctx is done. A caller abort is a
// cancellation; an expired deadline is a failure.
func (c *call) checkpoint(ctx context.Context) (Result, bool) {
	switch err := ctx.Err(); {
	case err == nil:
		return Result{}, false
	case errors.Is(err, context.Canceled):
		return c.cancel(), true
	default:
		return c.fail(err), true
	}
}

// ChatOrGenerate sends the request to the active backend. With a local
// backend the texts are passed through unchanged. With a cloud backend the
// identity and extracted entities are substituted before the call and
// restored in the reply.
func (g *Gateway) ChatOrGenerate(ctx context.Context, req Request) Result {
	id := req.RequestID
	if id == "" {
		id = uuid.NewString()
	}
	c := &call{
		g:      g,
		id:     id,
		state:  Idle,
		start:  time.Now(),
		result: Result{RequestID: id},
		logger: g.logger.WithRequestID(id),
	}

	res := g.run(ctx, c, req)
	res.Duration = time.Since(c.start)
	g.finish(ctx, c, res)
	return res
}

func (g *Gateway) run(ctx context.Context, c *call, req Request) Result {
	if strings.TrimSpace(req.SystemPrompt) == "" && len(req.Messages) == 0 {
		return c.fail(&ValidationError{Reason: "system prompt and messages are both empty"})
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = provider.DefaultMaxTokens
	}

	c.to(SelectingProvider)
	lease, err := g.factory.Acquire()
	if err != nil {
		return c.fail(err)
	}
	defer lease.Release()

	p := lease.Provider()
	c.result.Provider = p.Name()
	c.result.Model = p.Model()
	c.local = p.IsLocal()
	c.logger = c.logger.WithProvider(p.Name(), p.Model())

	if p.IsLocal() {
		if res, stop := c.checkpoint(ctx); stop {
			return res
		}
		c.to(CallingProvider)
		reply, err := send(ctx, p, req.SystemPrompt, req.Messages, maxTokens)
		if err != nil {
			return c.providerFailure(ctx, err)
		}
		if res, stop := c.checkpoint(ctx); stop {
			return res
		}
		return c.done(reply)
	}

	if res, stop := c.checkpoint(ctx); stop {
		return res
	}

	texts := requestTexts(req)

	c.to(ExtractingPII)
	pii := g.extract(ctx, c, texts)

	c.to(Anonymizing)
	identity, err := g.identity(req, texts)
	if err != nil {
		return c.fail(err)
	}
	mapping := g.engine.Prepare(identity, pii, texts...)

	system := mapping.Anonymize(req.SystemPrompt)
	messages := make([]provider.Message, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = provider.Message{Role: m.Role, Content: mapping.Anonymize(m.Content)}
	}
	c.result.Anonymized = true
	c.result.Replacements = mapping.Replacements()

	if res, stop := c.checkpoint(ctx); stop {
		return res
	}

	c.to(CallingProvider)
	reply, err := send(ctx, p, system, messages, maxTokens)
	if err != nil {
		return c.providerFailure(ctx, err)
	}

	c.to(Deanonymizing)
	restored := mapping.Deanonymize(reply)

	if res, stop := c.checkpoint(ctx); stop {
		return res
	}
	return c.done(restored)
}

func (c *call) providerFailure(ctx context.Context, err error) Result {
	if errors.Is(ctx.Err(), context.Canceled) {
		return c.cancel()
	}
	return c.fail(err)
}

// extract never fails the call. Errors degrade to an empty result.
func (g *Gateway) extract(ctx context.Context, c *call, texts []string) anonymize.PIIResult {
	if g.extractor == nil {
		return anonymize.PIIResult{}
	}
	pii, err := g.extractor.Extract(ctx, strings.Join(texts, "\n\n"))
	if err != nil {
		c.result.ExtractionDegraded = true
		c.logger.Warn("Entity extraction degraded, continuing with identity substitution only", zap.Error(err))
		return anonymize.PIIResult{}
	}
	return pii
}

func (g *Gateway) identity(req Request, texts []string) (anonymize.Context, error) {
	if strings.TrimSpace(req.PatientIdentity) == "" {
		return anonymize.Context{}, nil
	}
	if req.Pseudonym != "" {
		identity, err := anonymize.NewContext(req.PatientIdentity, req.Pseudonym)
		if err != nil {
			return anonymize.Context{}, &ValidationError{Reason: err.Error()}
		}
		return identity, nil
	}
	if g.pseudonyms == nil {
		return anonymize.Context{}, errors.New("no pseudonym source configured")
	}
	return g.pseudonyms.Generate(req.PatientIdentity, texts...)
}

func (g *Gateway) finish(ctx context.Context, c *call, res Result) {
	fields := []zap.Field{
		zap.String("outcome", string(res.Outcome)),
		zap.Bool("anonymized", res.Anonymized),
		zap.Int("replacements", res.Replacements),
		zap.Bool("extraction_degraded", res.ExtractionDegraded),
		zap.Int("reply_length", len(res.Text)),
		zap.Duration("duration", res.Duration),
	}
	switch res.Outcome {
	case OutcomeFailed:
		c.logger.Warn("Request failed", append(fields, zap.String("error_kind", ErrorKind(res.Err)), zap.Error(res.Err))...)
	case OutcomeCancelled:
		c.logger.Info("Request cancelled", fields...)
	default:
		c.logger.Info("Request completed", fields...)
	}

	entry := audit.Entry{
		RequestID:          res.RequestID,
		Provider:           res.Provider,
		Model:              res.Model,
		Local:              c.local,
		Outcome:            string(res.Outcome),
		ErrorKind:          ErrorKind(res.Err),
		Replacements:       res.Replacements,
		ExtractionDegraded: res.ExtractionDegraded,
		Duration:           res.Duration,
		CreatedAt:          c.start.UTC(),
	}

	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := g.recorder.Record(actx, entry); err != nil {
		c.logger.Warn("Failed to record audit entry", zap.Error(err))
	}
	if g.onRequest != nil {
		g.onRequest(entry)
	}
}

func send(ctx context.Context, p provider.Provider, system string, messages []provider.Message, maxTokens int) (string, error) {
	if len(messages) == 0 {
		return p.GenerateText(ctx, system, maxTokens)
	}
	return p.Chat(ctx, system, messages, maxTokens)
}

func requestTexts(req Request) []string {
	texts := make([]string, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		texts = append(texts, req.SystemPrompt)
	}
	for _, m := range req.Messages {
		texts = append(texts, m.Content)
	}
	return texts
}
