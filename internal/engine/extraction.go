package engine

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/sundialhq/sundial/internal/llm"
	"github.com/sundialhq/sundial/pkg/types"
)

// userEntityName is the canonical graph node representing the user. Person
// relations and preference edges anchor on it.
const userEntityName = "User"

// extractionQueueDepth bounds each per-thread queue. A full queue drops the
// turn rather than blocking the caller.
const extractionQueueDepth = 64

// ExtractionPipeline turns finished conversation turns into graph updates and
// episodic entries, off the reply path.
//
// Turns for one thread are processed strictly in submission order by a
// dedicated per-thread worker; different threads run in parallel. Every turn
// gets exactly one extraction attempt. Provider failures and malformed model
// output are logged and dropped, never retried.
type ExtractionPipeline struct {
	extractor *llm.Extractor
	episodic  *EpisodicService
	graph     *EntityGraph

	mu     sync.Mutex
	queues map[string]chan types.ConversationTurn
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

// NewExtractionPipeline creates the pipeline. Workers are spawned lazily per
// thread as turns arrive.
func NewExtractionPipeline(extractor *llm.Extractor, episodic *EpisodicService, graph *EntityGraph) *ExtractionPipeline {
	ctx, cancel := context.WithCancel(context.Background())
	return &ExtractionPipeline{
		extractor: extractor,
		episodic:  episodic,
		graph:     graph,
		queues:    make(map[string]chan types.ConversationTurn),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// ProcessTurn enqueues a turn for extraction and returns immediately. It is
// called after the user-facing reply has been dispatched, so it must never
// block the conversation.
func (p *ExtractionPipeline) ProcessTurn(turn types.ConversationTurn) {
	if turn.ThreadID == "" || turn.UserText == "" {
		return
	}
	if turn.At.IsZero() {
		turn.At = time.Now().UTC()
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	queue, ok := p.queues[turn.ThreadID]
	if !ok {
		queue = make(chan types.ConversationTurn, extractionQueueDepth)
		p.queues[turn.ThreadID] = queue
		p.wg.Add(1)
		go p.worker(queue)
	}
	p.mu.Unlock()

	select {
	case queue <- turn:
	default:
		log.Printf("extraction queue full for thread %s, dropping turn", turn.ThreadID)
	}
}

// Close stops accepting turns, drains in-flight queues, and waits for all
// workers to finish.
func (p *ExtractionPipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for _, queue := range p.queues {
		close(queue)
	}
	p.mu.Unlock()

	p.wg.Wait()
	p.cancel()
}

func (p *ExtractionPipeline) worker(queue chan types.ConversationTurn) {
	defer p.wg.Done()
	for turn := range queue {
		p.extractOne(turn)
	}
}

func (p *ExtractionPipeline) extractOne(turn types.ConversationTurn) {
	result, err := p.extractor.Extract(p.ctx, turn)
	if err != nil {
		log.Printf("extraction failed for thread %s: %v", turn.ThreadID, err)
		return
	}
	if result.Empty() {
		return
	}
	p.apply(turn, result)
}

// apply writes one extraction result into the graph and episodic store.
// Partial failures are logged per item; the rest of the result still lands.
func (p *ExtractionPipeline) apply(turn types.ConversationTurn, result *types.ExtractionResult) {
	ctx := p.ctx
	userMention := types.Mention{Name: userEntityName, Kind: types.KindPerson}

	for _, person := range result.People {
		entity, err := p.graph.ResolveOrCreate(ctx, types.Mention{Name: person.Name, Kind: types.KindPerson})
		if err != nil {
			log.Printf("failed to resolve person %q: %v", person.Name, err)
			continue
		}
		if person.Relation == "" {
			continue
		}
		err = p.graph.AddRelationship(ctx, entity.ID, TargetRef{Mention: &userMention}, person.Relation, person.Sentiment)
		if err != nil {
			log.Printf("failed to link person %q: %v", person.Name, err)
		}
	}

	for _, pref := range result.Preferences {
		user, err := p.graph.ResolveOrCreate(ctx, userMention)
		if err != nil {
			log.Printf("failed to resolve user node: %v", err)
			continue
		}
		err = p.graph.AddRelationship(ctx, user.ID, TargetRef{Literal: pref.Subject}, "prefers", pref.Sentiment)
		if err != nil {
			log.Printf("failed to record preference %q: %v", pref.Subject, err)
		}
	}

	for _, fact := range result.Facts {
		subject, err := p.graph.ResolveOrCreate(ctx, types.Mention{Name: fact.Subject, Kind: types.KindFactSubject})
		if err != nil {
			log.Printf("failed to resolve fact subject %q: %v", fact.Subject, err)
			continue
		}
		err = p.graph.AddRelationship(ctx, subject.ID, TargetRef{Literal: fact.Fact}, "fact", types.SentimentNone)
		if err != nil {
			log.Printf("failed to record fact about %q: %v", fact.Subject, err)
		}
	}

	for _, event := range result.Events {
		var expiresAt *time.Time
		if event.ExpiryDays > 0 {
			t := turn.At.Add(time.Duration(event.ExpiryDays * 24 * float64(time.Hour)))
			expiresAt = &t
		}
		_, err := p.episodic.Remember(ctx, RememberInput{
			ThreadID:   turn.ThreadID,
			Content:    event.Description,
			Importance: event.Importance,
			Tags:       event.Tags,
			ExpiresAt:  expiresAt,
		})
		if err != nil {
			log.Printf("failed to store event memory for thread %s: %v", turn.ThreadID, err)
		}
	}
}
