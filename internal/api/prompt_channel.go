package api

import (
	"sync"

	"github.com/google/uuid"
	"github.com/wesm/chatvault/internal/apperr"
	"github.com/wesm/chatvault/internal/model"
)

// pendingPrompt is one outstanding choose_myself/ask_for_text question
// a loader is blocked on, waiting for a GET /prompts caller to deliver
// an answer via POST /prompts/{id}/answer.
type pendingPrompt struct {
	req    PromptRequest
	answer chan PromptAnswer
}

// promptBroker realizes the bidirectional prompt channel (spec §6.2)
// over plain request/response HTTP: a loader's Channel calls block on
// a Go channel until an operator's answer arrives through the API,
// rather than talking to a terminal or transport directly.
type promptBroker struct {
	mu      sync.Mutex
	pending map[string]*pendingPrompt
	waiters chan *pendingPrompt
}

func newPromptBroker() *promptBroker {
	return &promptBroker{
		pending: make(map[string]*pendingPrompt),
		waiters: make(chan *pendingPrompt, 16),
	}
}

// ask registers req and blocks until an operator answers it.
func (b *promptBroker) ask(kind, question string, users []model.User) PromptAnswer {
	p := &pendingPrompt{
		req:    PromptRequest{ID: uuid.NewString(), Kind: kind, Question: question, Users: users},
		answer: make(chan PromptAnswer, 1),
	}
	b.mu.Lock()
	b.pending[p.req.ID] = p
	b.mu.Unlock()
	b.waiters <- p
	return <-p.answer
}

// next blocks until a prompt is pending, then returns it for delivery
// to a GET /prompts caller.
func (b *promptBroker) next() *pendingPrompt {
	return <-b.waiters
}

// answer delivers ans to the prompt registered under id.
func (b *promptBroker) answer(id string, ans PromptAnswer) error {
	b.mu.Lock()
	p, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	b.mu.Unlock()
	if !ok {
		return apperr.NotFound("no pending prompt with id %q", id)
	}
	p.answer <- ans
	return nil
}

// channel adapts a promptBroker to prompt.Channel for one loader call.
type channel struct {
	broker *promptBroker
}

func (c channel) ChooseMyself(users []model.User) (int, error) {
	ans := c.broker.ask("choose_myself", "", users)
	return ans.Index, nil
}

func (c channel) AskForText(question string) (string, error) {
	ans := c.broker.ask("ask_for_text", question, nil)
	return ans.Text, nil
}
