package shopassist

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/shaharia-lab/shopassist/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Templated replies used when a stage cannot produce an answer.
const (
	SearchUnavailableReply = "I can't search products right now. Please try again in a moment."
	// NoMatchingProductsReply answers a product query whose category could not be resolved.
	NoMatchingProductsReply = "Sorry, I couldn't find any matching products."
	ApologyReply           = "Sorry, I couldn't process your request right now."
)

// Turn outcomes recorded in metrics.
const (
	outcomeOK        = "ok"
	outcomeDegraded  = "degraded"
	outcomeRejected  = "rejected"
	outcomeCancelled = "cancelled"
)

const defaultPersistTimeout = 5 * time.Second

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ChatRequest is one incoming user turn.
type ChatRequest struct {
	SessionID string
	UserID    string
	Message   string
	Image     *ImagePart
	// Model selects the chat backend; see ProviderFactory.Resolve.
	Model string
}

// ChatReply is the answer to a ChatRequest. Products is never nil.
type ChatReply struct {
	Text       string
	SessionID  string
	Products   []Product
	IntentType IntentType
}

// ProductSearch is the catalog lookup used by the orchestrator. *ProductSearcher implements it.
type ProductSearch interface {
	Search(ctx context.Context, query string) ([]Product, error)
}

// OrchestratorConfig wires the collaborators of a SessionOrchestrator.
type OrchestratorConfig struct {
	History   ChatHistoryStorage
	Backends  *ProviderFactory
	Extractor IntentParser
	// Enhancer defaults to an IntentEnhancer over Extractor.
	Enhancer *IntentEnhancer
	Searcher ProductSearch
	// Locker defaults to a fresh SessionLocker.
	Locker              *SessionLocker
	MaxProductsInPrompt int
	Metrics             *observability.Metrics
	Logger              Logger
}

// SessionOrchestrator runs one chat turn: validate, extract intent, enhance it from history,
// search the catalog, synthesize a reply and persist the exchange. It keeps no per-session
// state of its own; turns for the same session are serialized.
type SessionOrchestrator struct {
	history   ChatHistoryStorage
	backends  *ProviderFactory
	extractor IntentParser
	enhancer  *IntentEnhancer
	searcher  ProductSearch
	locker    *SessionLocker

	maxProducts    int
	persistTimeout time.Duration
	metrics        *observability.Metrics
	log            Logger
	now            func() time.Time
}

// NewSessionOrchestrator validates cfg and builds an orchestrator.
func NewSessionOrchestrator(cfg OrchestratorConfig) (*SessionOrchestrator, error) {
	switch {
	case cfg.History == nil:
		return nil, errors.New("orchestrator requires a history store")
	case cfg.Backends == nil:
		return nil, errors.New("orchestrator requires a provider factory")
	case cfg.Extractor == nil:
		return nil, errors.New("orchestrator requires an intent extractor")
	case cfg.Searcher == nil:
		return nil, errors.New("orchestrator requires a product searcher")
	}

	log := cfg.Logger
	if log == nil {
		log = NewNullLogger()
	}
	enhancer := cfg.Enhancer
	if enhancer == nil {
		enhancer = NewIntentEnhancer(cfg.Extractor, WithEnhancerMetrics(cfg.Metrics), WithEnhancerLogger(log))
	}
	locker := cfg.Locker
	if locker == nil {
		locker = NewSessionLocker()
	}
	maxProducts := cfg.MaxProductsInPrompt
	if maxProducts <= 0 {
		maxProducts = DefaultMaxProductsInPrompt
	}

	return &SessionOrchestrator{
		history:        cfg.History,
		backends:       cfg.Backends,
		extractor:      cfg.Extractor,
		enhancer:       enhancer,
		searcher:       cfg.Searcher,
		locker:         locker,
		maxProducts:    maxProducts,
		persistTimeout: defaultPersistTimeout,
		metrics:        cfg.Metrics,
		log:            log,
		now:            time.Now,
	}, nil
}

// HandleMessage processes one turn. The only error it returns is *ValidationError; every
// other failure is turned into a templated reply. When ctx is cancelled before the turn
// completes nothing is written to history.
func (o *SessionOrchestrator) HandleMessage(ctx context.Context, req ChatRequest) (ChatReply, error) {
	start := o.now()
	ctx, span := observability.StartSpan(ctx, "SessionOrchestrator.HandleMessage")
	defer span.End()

	// Every later stage keys history by the trimmed id.
	req.SessionID = strings.TrimSpace(req.SessionID)

	log := o.log.WithContext(ctx).WithFields(map[string]interface{}{"sessionId": req.SessionID})
	log.WithFields(map[string]interface{}{"stage": "validating"}).Debug("Chat turn stage")

	userMsg, err := o.validate(req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		o.metrics.ObserveTurn(outcomeRejected, o.now().Sub(start))
		return ChatReply{}, err
	}
	span.SetAttributes(attribute.String("session_id", req.SessionID), attribute.String("model", req.Model))

	turn := &chatTurn{o: o, req: req, userMsg: userMsg, log: log}
	reply, outcome := turn.run(ctx)

	span.SetAttributes(attribute.String("outcome", outcome), attribute.String("intent_type", string(reply.IntentType)))
	o.metrics.ObserveTurn(outcome, o.now().Sub(start))
	log.WithFields(map[string]interface{}{"outcome": outcome, "intentType": reply.IntentType}).Info("Chat turn finished")
	return reply, nil
}

func (o *SessionOrchestrator) validate(req ChatRequest) (ChatMessage, error) {
	sessionID := req.SessionID
	if sessionID == "" {
		return ChatMessage{}, &ValidationError{Field: "sessionId", Message: "Session ID is required for conversational chat."}
	}
	if !sessionIDPattern.MatchString(sessionID) {
		return ChatMessage{}, &ValidationError{Field: "sessionId", Message: "Session ID must be 1-128 letters, digits, '-' or '_'."}
	}

	msg := NewHumanMessage(req.Message, req.Image, o.now())
	if !msg.IsValid() {
		return ChatMessage{}, &ValidationError{Field: "message", Message: "Message or image content is required."}
	}
	return msg, nil
}

// chatTurn holds the state of one HandleMessage call after validation.
type chatTurn struct {
	o       *SessionOrchestrator
	req     ChatRequest
	userMsg ChatMessage
	log     Logger
}

func (t *chatTurn) stage(name string) {
	t.log.WithFields(map[string]interface{}{"stage": name}).Debug("Chat turn stage")
}

func (t *chatTurn) fail(stage string, err error) {
	t.o.metrics.StageFailed(stage)
	t.log.WithFields(map[string]interface{}{"stage": stage}).WithErr(err).Warn("Chat turn stage failed")
}

func (t *chatTurn) templated(text string, intent IntentType) ChatReply {
	return ChatReply{Text: text, SessionID: t.req.SessionID, Products: []Product{}, IntentType: intent}
}

func (t *chatTurn) cancelled(ctx context.Context, stage string) (ChatReply, string) {
	t.log.WithFields(map[string]interface{}{"stage": stage}).WithErr(ctx.Err()).Info("Chat turn cancelled")
	return t.templated(ApologyReply, IntentError), outcomeCancelled
}

func (t *chatTurn) run(ctx context.Context) (ChatReply, string) {
	o := t.o

	unlock, err := o.locker.Lock(ctx, t.req.SessionID)
	if err != nil {
		return t.cancelled(ctx, "locking")
	}
	defer unlock()

	backend, provider, err := o.backends.Resolve(t.req.Model)
	if err != nil {
		t.fail("resolving_backend", err)
		return t.templated(ApologyReply, IntentError), outcomeDegraded
	}
	t.log.WithFields(map[string]interface{}{"backend": backend, "model": t.req.Model}).Debug("Chat backend resolved")

	stored, err := o.history.GetMessages(ctx, t.req.SessionID)
	if err != nil {
		if ctx.Err() != nil {
			return t.cancelled(ctx, "reading_history")
		}
		t.fail("reading_history", &PersistenceError{Op: "read", SessionID: t.req.SessionID, Err: err})
		return t.templated(ApologyReply, IntentError), outcomeDegraded
	}
	allMessages := append(stored, t.userMsg)

	t.stage("extracting_intent")
	degraded := false
	intent, err := o.extractor.ExtractIntent(ctx, JoinText(t.userMsg.Content), FirstImage(t.userMsg.Content))
	if err != nil {
		if ctx.Err() != nil {
			return t.cancelled(ctx, "extracting_intent")
		}
		t.fail("extracting_intent", err)
		intent = GeneralChatIntent()
		degraded = true
	}

	synth := NewResponseSynthesizer(provider, WithMaxProductsInPrompt(o.maxProducts), WithSynthesizerLogger(t.log))

	var reply Reply
	if intent.IntentType == IntentProductQuery {
		if intent.NeedsCategory() {
			t.stage("enhancing_intent")
			intent, err = o.enhancer.Enhance(ctx, intent, allMessages)
			if err != nil {
				return t.cancelled(ctx, "enhancing_intent")
			}
		}

		if !intent.IsSearchable() {
			t.log.Debug("Product query has no category, answering without a search")
			return t.persist(ctx, t.templated(NoMatchingProductsReply, intent.IntentType), outcomeFor(degraded))
		}

		t.stage("searching")
		products, err := o.searcher.Search(ctx, intent.PrimaryCategory())
		if err != nil {
			if ctx.Err() != nil {
				return t.cancelled(ctx, "searching")
			}
			t.fail("searching", err)
			return t.persist(ctx, t.templated(SearchUnavailableReply, intent.IntentType), outcomeDegraded)
		}

		t.stage("synthesizing")
		reply, err = synth.RespondToProductQuery(ctx, intent, products)
		if err != nil {
			return t.synthesisFailed(ctx, err, intent.IntentType)
		}
		return t.persist(ctx, t.result(reply, intent.IntentType), outcomeFor(degraded))
	}

	t.stage("synthesizing")
	reply, err = synth.RespondGeneral(ctx, ValidMessages(allMessages))
	if err != nil {
		return t.synthesisFailed(ctx, err, intent.IntentType)
	}
	return t.persist(ctx, t.result(reply, intent.IntentType), outcomeFor(degraded))
}

func (t *chatTurn) synthesisFailed(ctx context.Context, err error, intent IntentType) (ChatReply, string) {
	if ctx.Err() != nil {
		return t.cancelled(ctx, "synthesizing")
	}
	t.fail("synthesizing", err)
	return t.persist(ctx, t.templated(ApologyReply, intent), outcomeDegraded)
}

func (t *chatTurn) result(reply Reply, intent IntentType) ChatReply {
	products := reply.Products
	if products == nil {
		products = []Product{}
	}
	return ChatReply{Text: reply.Text, SessionID: t.req.SessionID, Products: products, IntentType: intent}
}

// persist appends the user message and then the reply. Once started it is not interrupted by
// ctx, so a turn is never stored half-way; failures are logged and the reply is still returned.
func (t *chatTurn) persist(ctx context.Context, reply ChatReply, outcome string) (ChatReply, string) {
	if ctx.Err() != nil {
		return t.cancelled(ctx, "persisting")
	}
	t.stage("persisting")

	o := t.o
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.persistTimeout)
	defer cancel()

	if err := o.history.AddMessage(writeCtx, t.req.SessionID, t.userMsg, t.req.UserID); err != nil {
		t.fail("persisting", &PersistenceError{Op: "append user message", SessionID: t.req.SessionID, Err: err})
		return reply, outcome
	}

	aiMsg := NewAIMessage(reply.Text, o.now())
	if !aiMsg.Timestamp.After(t.userMsg.Timestamp) {
		aiMsg.Timestamp = t.userMsg.Timestamp.Add(time.Millisecond)
	}
	if err := o.history.AddMessage(writeCtx, t.req.SessionID, aiMsg, t.req.UserID); err != nil {
		t.fail("persisting", &PersistenceError{Op: "append reply", SessionID: t.req.SessionID, Err: err})
	}
	return reply, outcome
}

func outcomeFor(degraded bool) string {
	if degraded {
		return outcomeDegraded
	}
	return outcomeOK
}
