// Package chat answers follow-up questions about a scan, grounded in the
// stored scan result and the user's health profile.
package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/labelscan/internal/gateway"
	"github.com/jonathan/labelscan/internal/parsing"
	"github.com/jonathan/labelscan/internal/prompts"
	"github.com/jonathan/labelscan/internal/schemas"
	"github.com/jonathan/labelscan/internal/types"
	"go.uber.org/zap"
)

// Defaults for the conversation context.
const (
	DefaultHistoryWindow   = 10
	DefaultMaxOutputTokens = 200
)

// ChatRequest is one user message. PriorTurns is a read-only snapshot.
type ChatRequest struct {
	Message    string
	ScanID     *uuid.UUID
	UserID     uuid.UUID
	Profile    types.HealthProfile
	PriorTurns []types.ConversationTurn
	Language   string
}

// ChatReply is the assistant's answer. Turns is the prior history followed by
// the new user and assistant turns, in a freshly allocated slice.
type ChatReply struct {
	Reply      string                   `json:"reply"`
	Confidence types.Confidence         `json:"confidence"`
	Turns      []types.ConversationTurn `json:"-"`
}

// NewTurns returns the two turns added by this reply.
func (r *ChatReply) NewTurns() []types.ConversationTurn {
	if len(r.Turns) < 2 {
		return r.Turns
	}
	return r.Turns[len(r.Turns)-2:]
}

type chatResponse struct {
	Reply string `json:"reply"`
}

// Conversation builds grounded replies.
type Conversation struct {
	gen           gateway.Generator
	scans         types.ScanStore
	logger        *zap.Logger
	historyWindow int
	maxTokens     int

	now   func() time.Time
	newID func() uuid.UUID
}

// Option configures a Conversation.
type Option func(*Conversation)

// WithHistoryWindow bounds how many prior turns are sent to the model.
func WithHistoryWindow(n int) Option {
	return func(c *Conversation) { c.historyWindow = n }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Conversation) { c.logger = logger }
}

// NewConversation creates a Conversation reading scans from store.
func NewConversation(gen gateway.Generator, scans types.ScanStore, opts ...Option) *Conversation {
	c := &Conversation{
		gen:           gen,
		scans:         scans,
		logger:        zap.NewNop(),
		historyWindow: DefaultHistoryWindow,
		maxTokens:     DefaultMaxOutputTokens,
		now:           time.Now,
		newID:         uuid.New,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Reply answers a message. It fails with *ScanNotFoundError when the scan is
// missing or not owned by the user and with *parsing.EmptyInputError for a
// blank message. Gateway failures are returned unchanged in kind.
func (c *Conversation) Reply(ctx context.Context, req ChatRequest) (*ChatReply, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, &parsing.EmptyInputError{Field: "message"}
	}

	var scan *types.ScanResult
	if req.ScanID != nil {
		loaded, err := c.loadScan(ctx, *req.ScanID, req.UserID)
		if err != nil {
			return nil, err
		}
		scan = loaded
	}

	language := req.Language
	if language == "" && scan != nil {
		language = scan.Language
	}

	var resp chatResponse
	err := c.gen.Generate(ctx, gateway.KindAnswerChat,
		gateway.Vars{
			"Grounding":    BuildGrounding(scan, req.Profile),
			"History":      FormatHistory(Window(req.PriorTurns, c.historyWindow)),
			"Message":      message,
			"LanguageName": prompts.LanguageName(language),
		},
		gateway.Constraints{MaxOutputTokens: c.maxTokens, Shape: schemas.ShapeChatReply},
		&resp)
	if err != nil {
		c.logger.Warn("answer-chat failed", zap.Error(err))
		return nil, fmt.Errorf("chat reply: %w", err)
	}

	now := c.now().UTC()
	turns := make([]types.ConversationTurn, 0, len(req.PriorTurns)+2)
	turns = append(turns, req.PriorTurns...)
	turns = append(turns,
		types.ConversationTurn{ID: c.newID(), Role: types.RoleUser, Text: message, ScanID: req.ScanID, CreatedAt: now},
		types.ConversationTurn{ID: c.newID(), Role: types.RoleAssistant, Text: strings.TrimSpace(resp.Reply), ScanID: req.ScanID, CreatedAt: now},
	)

	return &ChatReply{
		Reply:      strings.TrimSpace(resp.Reply),
		Confidence: ConfidenceFor(message, scan),
		Turns:      turns,
	}, nil
}

func (c *Conversation) loadScan(ctx context.Context, scanID, userID uuid.UUID) (*types.ScanResult, error) {
	scan, err := c.scans.LoadScan(ctx, scanID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load scan %s: %w", scanID, err)
	}
	if scan == nil {
		return nil, &ScanNotFoundError{ScanID: scanID}
	}
	return scan, nil
}
