package shopassist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shaharia-lab/shopassist/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var headphoneProduct = Product{ID: "h1", Name: "Studio Headphones", Description: "Closed-back, wired", Price: 129.99, Category: "headphone"}

// flakyHistory wraps the in-memory store and fails the configured operations.
type flakyHistory struct {
	*InMemoryChatHistoryStorage
	mu        sync.Mutex
	failRead  error
	failWrite error
	writes    int
}

func (f *flakyHistory) GetMessages(ctx context.Context, sessionID string) ([]ChatMessage, error) {
	if f.failRead != nil {
		return nil, f.failRead
	}
	return f.InMemoryChatHistoryStorage.GetMessages(ctx, sessionID)
}

func (f *flakyHistory) AddMessage(ctx context.Context, sessionID string, message ChatMessage, userID string) error {
	f.mu.Lock()
	f.writes++
	f.mu.Unlock()
	if f.failWrite != nil {
		return f.failWrite
	}
	return f.InMemoryChatHistoryStorage.AddMessage(ctx, sessionID, message, userID)
}

func (f *flakyHistory) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

type orchestratorFixture struct {
	orchestrator *SessionOrchestrator
	history      *flakyHistory
	chat         *NoOpsLLMProvider
	parser       *MockIntentParser
	searcher     *ProductSearcher
	registry     *prometheus.Registry
}

func newOrchestratorFixture(t *testing.T, chat *NoOpsLLMProvider, products ...Product) *orchestratorFixture {
	t.Helper()

	history := &flakyHistory{InMemoryChatHistoryStorage: NewInMemoryChatHistoryStorage()}
	backends := NewProviderFactory(BackendOpenAI)
	backends.Register(BackendOpenAI, chat)

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	parser := new(MockIntentParser)
	searcher := NewProductSearcher(NewInMemoryCatalog(products...), metrics, nil)

	orchestrator, err := NewSessionOrchestrator(OrchestratorConfig{
		History:   history,
		Backends:  backends,
		Extractor: parser,
		Searcher:  searcher,
		Metrics:   metrics,
	})
	require.NoError(t, err)

	return &orchestratorFixture{
		orchestrator: orchestrator,
		history:      history,
		chat:         chat,
		parser:       parser,
		searcher:     searcher,
		registry:     reg,
	}
}

func (f *orchestratorFixture) stored(t *testing.T, sessionID string) []ChatMessage {
	msgs, err := f.history.InMemoryChatHistoryStorage.GetMessages(context.Background(), sessionID)
	require.NoError(t, err)
	return msgs
}

func TestSessionOrchestrator_ProductQueryEndToEnd(t *testing.T) {
	extractorBackend := NewNoOpsLLMProvider(WithToolCall(IntentParserToolName, `{"intentType":"product_query","categories":["headphone"]}`))
	extractor, err := NewIntentExtractor(extractorBackend, nil)
	require.NoError(t, err)

	chat := NewNoOpsLLMProvider(WithResponse(LLMResponse{Text: "The Studio Headphones are $129.99."}))
	backends := NewProviderFactory(BackendOpenAI)
	backends.Register(BackendOpenAI, chat)
	history := NewInMemoryChatHistoryStorage()

	orchestrator, err := NewSessionOrchestrator(OrchestratorConfig{
		History:   history,
		Backends:  backends,
		Extractor: extractor,
		Searcher:  NewProductSearcher(NewInMemoryCatalog(headphoneProduct, sampleProducts()[1]), nil, nil),
	})
	require.NoError(t, err)

	reply, err := orchestrator.HandleMessage(context.Background(), ChatRequest{SessionID: "s1", Message: "Show me some headphones", Model: "gpt-4o"})
	require.NoError(t, err)
	assert.Equal(t, "s1", reply.SessionID)
	assert.Equal(t, "The Studio Headphones are $129.99.", reply.Text)
	assert.Equal(t, []Product{headphoneProduct}, reply.Products)
	assert.Equal(t, IntentProductQuery, reply.IntentType)

	require.Len(t, chat.Calls(), 1)
	assert.Contains(t, JoinText(chat.Calls()[0][0].Content), "Studio Headphones ($129.99)")

	msgs, err := history.GetMessages(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, HumanRole, msgs[0].Role)
	assert.Equal(t, "Show me some headphones", JoinText(msgs[0].Content))
	assert.Equal(t, AIRole, msgs[1].Role)
	assert.Equal(t, reply.Text, JoinText(msgs[1].Content))
}

func TestSessionOrchestrator_Validation(t *testing.T) {
	tests := []struct {
		name      string
		req       ChatRequest
		wantField string
		wantMsg   string
	}{
		{
			name:      "no content",
			req:       ChatRequest{SessionID: "s1", Message: ""},
			wantField: "message",
			wantMsg:   "Message or image content is required.",
		},
		{
			name:      "blank text and empty image",
			req:       ChatRequest{SessionID: "s1", Message: "   ", Image: &ImagePart{MimeType: "image/png"}},
			wantField: "message",
			wantMsg:   "Message or image content is required.",
		},
		{
			name:      "missing session",
			req:       ChatRequest{Message: "hi"},
			wantField: "sessionId",
			wantMsg:   "Session ID is required for conversational chat.",
		},
		{
			name:      "blank session",
			req:       ChatRequest{SessionID: "  \t", Message: "hi"},
			wantField: "sessionId",
			wantMsg:   "Session ID is required for conversational chat.",
		},
		{
			name:      "malformed session",
			req:       ChatRequest{SessionID: "../etc/passwd", Message: "hi"},
			wantField: "sessionId",
		},
		{
			name:      "overlong session",
			req:       ChatRequest{SessionID: strings.Repeat("a", 129), Message: "hi"},
			wantField: "sessionId",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newOrchestratorFixture(t, NewNoOpsLLMProvider())

			_, err := f.orchestrator.HandleMessage(context.Background(), tt.req)
			var validationErr *ValidationError
			require.ErrorAs(t, err, &validationErr)
			assert.Equal(t, tt.wantField, validationErr.Field)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, validationErr.Message)
			}

			assert.Zero(t, f.history.writeCount())
			assert.Empty(t, f.chat.Calls())
			f.parser.AssertNotCalled(t, "ExtractIntent", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestSessionOrchestrator_CarriesCategoryAcrossTurns(t *testing.T) {
	chat := NewNoOpsLLMProvider(
		WithResponse(LLMResponse{Text: "Here are our headphones."}),
		WithResponse(LLMResponse{Text: "These are the cheapest headphones."}),
	)
	f := newOrchestratorFixture(t, chat, headphoneProduct, sampleProducts()[1])

	f.parser.On("ExtractIntent", mock.Anything, "Show me headphones", (*ImagePart)(nil)).
		Return(Intent{IntentType: IntentProductQuery, Categories: []Category{"headphone"}}, nil)
	f.parser.On("ExtractIntent", mock.Anything, "What about cheaper ones?", (*ImagePart)(nil)).
		Return(Intent{IntentType: IntentProductQuery}, nil)

	ctx := context.Background()
	first, err := f.orchestrator.HandleMessage(ctx, ChatRequest{SessionID: "s1", Message: "Show me headphones"})
	require.NoError(t, err)
	assert.Len(t, first.Products, 1)

	second, err := f.orchestrator.HandleMessage(ctx, ChatRequest{SessionID: "s1", Message: "What about cheaper ones?"})
	require.NoError(t, err)
	assert.Equal(t, "These are the cheapest headphones.", second.Text)
	assert.Equal(t, []Product{headphoneProduct}, second.Products)

	calls := chat.Calls()
	require.Len(t, calls, 2)
	assert.Contains(t, JoinText(calls[1][0].Content), "Studio Headphones")

	msgs := f.stored(t, "s1")
	require.Len(t, msgs, 4)
	assert.Equal(t, []ChatRole{HumanRole, AIRole, HumanRole, AIRole}, []ChatRole{msgs[0].Role, msgs[1].Role, msgs[2].Role, msgs[3].Role})
}

func TestSessionOrchestrator_ExtractionFailureFallsBackToGeneralChat(t *testing.T) {
	chat := NewNoOpsLLMProvider(WithResponse(LLMResponse{Text: "Hi! What can I find for you?"}))
	f := newOrchestratorFixture(t, chat)
	require.NoError(t, f.history.InMemoryChatHistoryStorage.AddMessage(context.Background(), "s1", NewHumanMessage("hello", nil, enhancerEpoch), ""))
	require.NoError(t, f.history.InMemoryChatHistoryStorage.AddMessage(context.Background(), "s1", ChatMessage{Role: AIRole, Timestamp: enhancerEpoch}, ""))

	f.parser.On("ExtractIntent", mock.Anything, "anything new?", (*ImagePart)(nil)).
		Return(Intent{}, &ExtractionFailedError{Err: errors.New("no tool call")})

	reply, err := f.orchestrator.HandleMessage(context.Background(), ChatRequest{SessionID: "s1", Message: "anything new?"})
	require.NoError(t, err)
	assert.Equal(t, "Hi! What can I find for you?", reply.Text)
	assert.Equal(t, IntentGeneralChat, reply.IntentType)
	assert.NotNil(t, reply.Products)
	assert.Empty(t, reply.Products)

	calls := chat.Calls()
	require.Len(t, calls, 1)
	require.Len(t, calls[0], 3, "system prompt, valid history and the current message")
	assert.Equal(t, "hello", JoinText(calls[0][1].Content))
	assert.Equal(t, "anything new?", JoinText(calls[0][2].Content))

	assert.Len(t, f.stored(t, "s1"), 4, "invalid messages stay in storage")
}

func TestSessionOrchestrator_UnresolvedCategoryRepliesNoMatch(t *testing.T) {
	chat := NewNoOpsLLMProvider()
	f := newOrchestratorFixture(t, chat, headphoneProduct)

	f.parser.On("ExtractIntent", mock.Anything, "show me something cheap", (*ImagePart)(nil)).
		Return(Intent{IntentType: IntentProductQuery, PriceRange: &PriceRange{Max: floatPtr(20)}}, nil)

	reply, err := f.orchestrator.HandleMessage(context.Background(), ChatRequest{SessionID: "s1", Message: "show me something cheap"})
	require.NoError(t, err)
	assert.Equal(t, NoMatchingProductsReply, reply.Text)
	assert.Equal(t, IntentProductQuery, reply.IntentType)
	assert.Empty(t, reply.Products)
	assert.Empty(t, chat.Calls())

	stored := f.stored(t, "s1")
	require.Len(t, stored, 2)
	assert.Equal(t, NoMatchingProductsReply, JoinText(stored[1].Content))
}

func TestSessionOrchestrator_TrimsSessionID(t *testing.T) {
	chat := NewNoOpsLLMProvider(WithResponse(LLMResponse{Text: "Hello!"}))
	f := newOrchestratorFixture(t, chat)

	f.parser.On("ExtractIntent", mock.Anything, "hi", (*ImagePart)(nil)).Return(GeneralChatIntent(), nil)

	_, err := f.orchestrator.HandleMessage(context.Background(), ChatRequest{SessionID: " s1 ", Message: "hi"})
	require.NoError(t, err)

	assert.Len(t, f.stored(t, "s1"), 2)
	assert.Empty(t, f.stored(t, " s1 "))
}

func TestSessionOrchestrator_NoProductsFound(t *testing.T) {
	chat := NewNoOpsLLMProvider()
	f := newOrchestratorFixture(t, chat, headphoneProduct)

	f.parser.On("ExtractIntent", mock.Anything, mock.Anything, mock.Anything).
		Return(Intent{IntentType: IntentProductQuery, Categories: []Category{"tents"}}, nil)

	reply, err := f.orchestrator.HandleMessage(context.Background(), ChatRequest{SessionID: "s1", Message: "tents please"})
	require.NoError(t, err)
	assert.Equal(t, "Sorry, I couldn't find any products for tents.", reply.Text)
	assert.Empty(t, reply.Products)
	assert.Empty(t, chat.Calls())
	assert.Len(t, f.stored(t, "s1"), 2)
}

func TestSessionOrchestrator_Degradations(t *testing.T) {
	tests := []struct {
		name       string
		chat       *NoOpsLLMProvider
		searchErr  error
		wantText   string
		wantWrites int
	}{
		{
			name:       "search failure",
			chat:       NewNoOpsLLMProvider(),
			searchErr:  errors.New("catalog offline"),
			wantText:   SearchUnavailableReply,
			wantWrites: 2,
		},
		{
			name:       "synthesis failure",
			chat:       NewNoOpsLLMProvider(WithError(&LLMError{Code: 401, Message: "bad key"})),
			wantText:   ApologyReply,
			wantWrites: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newOrchestratorFixture(t, tt.chat, headphoneProduct)
			f.parser.On("ExtractIntent", mock.Anything, mock.Anything, mock.Anything).
				Return(Intent{IntentType: IntentProductQuery, Categories: []Category{"headphone"}}, nil)

			if tt.searchErr != nil {
				store := new(MockCatalogStore)
				store.On("SearchByText", mock.Anything, mock.Anything).Return(nil, tt.searchErr)
				f.orchestrator.searcher = NewProductSearcher(store, nil, nil)
			}

			reply, err := f.orchestrator.HandleMessage(context.Background(), ChatRequest{SessionID: "s1", Message: "headphones"})
			require.NoError(t, err)
			assert.Equal(t, tt.wantText, reply.Text)
			assert.Equal(t, "s1", reply.SessionID)
			assert.NotNil(t, reply.Products)
			assert.Empty(t, reply.Products)
			assert.Equal(t, tt.wantWrites, f.history.writeCount())
		})
	}
}

func TestSessionOrchestrator_HistoryReadFailure(t *testing.T) {
	f := newOrchestratorFixture(t, NewNoOpsLLMProvider())
	f.history.failRead = errors.New("connection refused")

	reply, err := f.orchestrator.HandleMessage(context.Background(), ChatRequest{SessionID: "s1", Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, ApologyReply, reply.Text)
	assert.Zero(t, f.history.writeCount())
	f.parser.AssertNotCalled(t, "ExtractIntent", mock.Anything, mock.Anything, mock.Anything)
}

func TestSessionOrchestrator_PersistenceFailureStillReplies(t *testing.T) {
	chat := NewNoOpsLLMProvider(WithResponse(LLMResponse{Text: "Hello!"}))
	f := newOrchestratorFixture(t, chat)
	f.history.failWrite = errors.New("disk full")
	f.parser.On("ExtractIntent", mock.Anything, mock.Anything, mock.Anything).Return(GeneralChatIntent(), nil)

	reply, err := f.orchestrator.HandleMessage(context.Background(), ChatRequest{SessionID: "s1", Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "Hello!", reply.Text)
	assert.Equal(t, 1, f.history.writeCount(), "the reply is not stored without its user message")
}

func TestSessionOrchestrator_CancellationWritesNothing(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, f *orchestratorFixture, cancel context.CancelFunc)
	}{
		{
			name: "during extraction",
			setup: func(t *testing.T, f *orchestratorFixture, cancel context.CancelFunc) {
				f.parser.On("ExtractIntent", mock.Anything, mock.Anything, mock.Anything).
					Run(func(mock.Arguments) { cancel() }).
					Return(Intent{}, &ExtractionFailedError{Err: context.Canceled})
			},
		},
		{
			name: "during enhancement",
			setup: func(t *testing.T, f *orchestratorFixture, cancel context.CancelFunc) {
				require.NoError(t, f.history.InMemoryChatHistoryStorage.AddMessage(context.Background(), "s1", NewHumanMessage("earlier", nil, enhancerEpoch), ""))
				f.parser.On("ExtractIntent", mock.Anything, "cheaper", (*ImagePart)(nil)).
					Return(Intent{IntentType: IntentProductQuery}, nil)
				f.parser.On("ExtractIntent", mock.Anything, "earlier", (*ImagePart)(nil)).
					Run(func(mock.Arguments) { cancel() }).
					Return(Intent{}, context.Canceled)
			},
		},
		{
			name: "during synthesis",
			setup: func(t *testing.T, f *orchestratorFixture, cancel context.CancelFunc) {
				f.parser.On("ExtractIntent", mock.Anything, mock.Anything, mock.Anything).
					Run(func(mock.Arguments) { cancel() }).
					Return(GeneralChatIntent(), nil)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newOrchestratorFixture(t, NewNoOpsLLMProvider())
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			tt.setup(t, f, cancel)

			before := len(f.stored(t, "s1"))
			reply, err := f.orchestrator.HandleMessage(ctx, ChatRequest{SessionID: "s1", Message: "cheaper"})
			require.NoError(t, err)
			assert.Equal(t, ApologyReply, reply.Text)
			assert.Empty(t, reply.Products)
			assert.Zero(t, f.history.writeCount())
			assert.Len(t, f.stored(t, "s1"), before)
		})
	}
}

func TestSessionOrchestrator_ResolvesBackendFromModel(t *testing.T) {
	openai := NewNoOpsLLMProvider(WithResponse(LLMResponse{Text: "from openai"}))
	gemini := NewNoOpsLLMProvider(WithResponse(LLMResponse{Text: "from gemini"}))
	f := newOrchestratorFixture(t, openai)
	f.orchestrator.backends.Register(BackendGemini, gemini)
	f.parser.On("ExtractIntent", mock.Anything, mock.Anything, mock.Anything).Return(GeneralChatIntent(), nil)

	tests := []struct {
		model string
		want  string
	}{
		{model: "gemini-2.0-flash", want: "from gemini"},
		{model: "gpt-4o-mini", want: "from openai"},
		{model: "", want: "from openai"},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			reply, err := f.orchestrator.HandleMessage(context.Background(), ChatRequest{SessionID: "s1", Message: "hi", Model: tt.model})
			require.NoError(t, err)
			assert.Equal(t, tt.want, reply.Text)
		})
	}
}

func TestSessionOrchestrator_ConcurrentTurnsDoNotInterleave(t *testing.T) {
	f := newOrchestratorFixture(t, NewNoOpsLLMProvider(WithResponse(LLMResponse{Text: "ok"})))
	f.parser.On("ExtractIntent", mock.Anything, mock.Anything, mock.Anything).Return(GeneralChatIntent(), nil)

	const turns = 8
	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.orchestrator.HandleMessage(context.Background(), ChatRequest{SessionID: "shared", Message: fmt.Sprintf("turn %d", i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	msgs := f.stored(t, "shared")
	require.Len(t, msgs, 2*turns)
	for i := 0; i < len(msgs); i += 2 {
		assert.Equal(t, HumanRole, msgs[i].Role)
		assert.Equal(t, AIRole, msgs[i+1].Role)
	}
	assert.Zero(t, f.orchestrator.locker.size())

	session, err := f.history.GetSession(context.Background(), "shared")
	require.NoError(t, err)
	assert.Equal(t, int64(2*turns), session.Version)
}

func TestSessionOrchestrator_RecordsTurnMetrics(t *testing.T) {
	f := newOrchestratorFixture(t, NewNoOpsLLMProvider(WithResponse(LLMResponse{Text: "ok"})))
	f.parser.On("ExtractIntent", mock.Anything, "broken", (*ImagePart)(nil)).
		Return(Intent{}, &ExtractionFailedError{Err: errors.New("bad payload")})
	f.parser.On("ExtractIntent", mock.Anything, mock.Anything, mock.Anything).Return(GeneralChatIntent(), nil)

	ctx := context.Background()
	_, err := f.orchestrator.HandleMessage(ctx, ChatRequest{SessionID: "s1", Message: "hi"})
	require.NoError(t, err)
	_, err = f.orchestrator.HandleMessage(ctx, ChatRequest{SessionID: "s1", Message: "broken"})
	require.NoError(t, err)
	_, err = f.orchestrator.HandleMessage(ctx, ChatRequest{SessionID: "", Message: "hi"})
	require.Error(t, err)

	expected := `
# HELP shopassist_chat_turns_total Total chat turns by outcome
# TYPE shopassist_chat_turns_total counter
shopassist_chat_turns_total{outcome="degraded"} 1
shopassist_chat_turns_total{outcome="ok"} 1
shopassist_chat_turns_total{outcome="rejected"} 1
# HELP shopassist_stage_failures_total Total pipeline stage failures by stage
# TYPE shopassist_stage_failures_total counter
shopassist_stage_failures_total{stage="extracting_intent"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(f.registry, strings.NewReader(expected),
		"shopassist_chat_turns_total", "shopassist_stage_failures_total"))
}

func TestNewSessionOrchestrator_RequiresCollaborators(t *testing.T) {
	valid := OrchestratorConfig{
		History:   NewInMemoryChatHistoryStorage(),
		Backends:  NewProviderFactory(BackendOpenAI),
		Extractor: new(MockIntentParser),
		Searcher:  NewProductSearcher(NewInMemoryCatalog(), nil, nil),
	}
	_, err := NewSessionOrchestrator(valid)
	require.NoError(t, err)

	for name, mutate := range map[string]func(*OrchestratorConfig){
		"history":   func(c *OrchestratorConfig) { c.History = nil },
		"backends":  func(c *OrchestratorConfig) { c.Backends = nil },
		"extractor": func(c *OrchestratorConfig) { c.Extractor = nil },
		"searcher":  func(c *OrchestratorConfig) { c.Searcher = nil },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := valid
			mutate(&cfg)
			_, err := NewSessionOrchestrator(cfg)
			assert.Error(t, err)
		})
	}
}
