package engine

import (
	"errors"
	"fmt"

	"intent-engine/internal/common/logger"
	"intent-engine/internal/common/observability"
	"intent-engine/internal/intent/conversation"
	"intent-engine/internal/intent/dsl"
	"intent-engine/internal/intent/macro"
	"intent-engine/internal/intent/selector"
	"intent-engine/internal/intent/solver"
	"intent-engine/pkg/registry"
)

var ErrDuplicateIntent = errors.New("DUPLICATE_INTENT")

type Config struct {
	StepBudget    int
	Workers       int
	OrderTieBreak bool
	Conversation  conversation.Config
}

// Builder collects macros, fragments and intents. Every registration error
// is kept and reported again by Build, so an engine is never built from an
// invalid set.
type Builder struct {
	config    Config
	logger    logger.Logger
	compiler  *dsl.Compiler
	macros    *macro.Processor
	templates []*dsl.Template
	handlers  map[string]Handler
	synonyms  map[string][]string
	errs      []error

	store     conversation.Store
	obs       *observability.Observability
	observers []Observer
}

func NewBuilder(config Config, log logger.Logger) *Builder {
	return &Builder{
		config:   config,
		logger:   log,
		compiler: dsl.NewCompiler(),
		macros:   macro.NewProcessor(),
		handlers: make(map[string]Handler),
		synonyms: make(map[string][]string),
	}
}

// WithStore sets the conversation store; the default keeps sessions in memory.
func (b *Builder) WithStore(store conversation.Store) *Builder {
	b.store = store
	return b
}

func (b *Builder) WithObservability(obs *observability.Observability) *Builder {
	b.obs = obs
	return b
}

// WithObserver adds a receiver of resolution outcomes.
func (b *Builder) WithObserver(o Observer) *Builder {
	b.observers = append(b.observers, o)
	return b
}

func (b *Builder) fail(err error) error {
	b.errs = append(b.errs, err)
	return err
}

// AddMacro registers a synonym macro. It reports whether an existing macro
// was overridden.
func (b *Builder) AddMacro(name, value string) (bool, error) {
	if err := macro.ValidateName(name); err != nil {
		return false, b.fail(err)
	}
	return b.macros.AddMacro(name, value), nil
}

func (b *Builder) AddFragment(text string) error {
	if _, err := b.compiler.AddFragment(text); err != nil {
		return b.fail(err)
	}
	return nil
}

// AddIntent compiles an intent and binds its handler. A nil handler resolves
// with no output.
func (b *Builder) AddIntent(text string, h Handler) error {
	tpl, err := b.compiler.Compile(text)
	if err != nil {
		return b.fail(err)
	}
	return b.register(tpl, h)
}

func (b *Builder) register(tpl *dsl.Template, h Handler) error {
	if _, dup := b.handlers[tpl.ID]; dup {
		return b.fail(fmt.Errorf("%w: %s", ErrDuplicateIntent, tpl.ID))
	}
	if h == nil {
		h = noopHandler
	}
	b.templates = append(b.templates, tpl.WithOrder(len(b.templates)))
	b.handlers[tpl.ID] = h
	return nil
}

// LoadModel registers everything declared by a model. Handlers are looked up
// by intent id.
func (b *Builder) LoadModel(m *registry.Model, handlers map[string]Handler) error {
	syns, err := m.ExpandSynonyms(b.macros)
	if err != nil {
		return b.fail(fmt.Errorf("model %s: %w", m.ID, err))
	}
	for id, s := range syns {
		b.synonyms[id] = s
	}

	for _, f := range m.Fragments {
		if err := b.AddFragment(f); err != nil {
			return fmt.Errorf("model %s: %w", m.ID, err)
		}
	}
	for _, text := range m.Intents {
		tpl, err := b.compiler.Compile(text)
		if err != nil {
			return b.fail(fmt.Errorf("model %s: %w", m.ID, err))
		}
		if err := b.register(tpl, handlers[tpl.ID]); err != nil {
			return err
		}
	}

	b.logger.Info("Model loaded", map[string]interface{}{
		"modelId":   m.ID,
		"version":   m.Version,
		"intents":   len(m.Intents),
		"fragments": len(m.Fragments),
		"elements":  len(m.Elements),
	})
	return nil
}

// Build freezes the registration table.
func (b *Builder) Build() (*Engine, error) {
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}
	if len(b.templates) == 0 {
		return nil, errors.New("no intents registered")
	}

	log := b.logger.WithFields(map[string]interface{}{"component": "engine"})
	templates := make([]*dsl.Template, len(b.templates))
	copy(templates, b.templates)

	e := &Engine{
		templates: templates,
		handlers:  b.handlers,
		macros:    b.macros,
		synonyms:  b.synonyms,
		selector: selector.New(solver.New(b.config.StepBudget), selector.Config{
			Workers:       b.config.Workers,
			OrderTieBreak: b.config.OrderTieBreak,
		}, b.logger),
		conv:      conversation.NewManager(b.store, b.config.Conversation, b.logger),
		obs:       b.obs,
		observers: b.observers,
		logger:    log,
	}

	log.Info("Intent engine built", map[string]interface{}{
		"intents":       len(templates),
		"stepBudget":    b.config.StepBudget,
		"workers":       b.config.Workers,
		"orderTieBreak": b.config.OrderTieBreak,
	})
	return e, nil
}
