// Package template dispatches instructions to contract procedures. A
// template is an enumerable set of contracts; an asset names its template
// at creation and is governed by it for life.
package template

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/vnlabs-io/assetd/ledger"
	"github.com/vnlabs-io/assetd/repository"
	"github.com/vnlabs-io/assetd/types"
)

// Scope restricts where a contract may be invoked.
type Scope string

const (
	ScopeAsset Scope = "asset" // no token target
	ScopeToken Scope = "token" // requires a token target
)

// Procedure is the executable body of one contract.
type Procedure func(c *Context) error

// Definition describes one contract of a template.
type Definition struct {
	Name      string
	Scope     Scope
	Exclusive bool // refuses admission while the token has an active timed sub-transaction
	Internal  bool // only the node itself may schedule it, never external callers
	Run       Procedure
}

// Template is a registered contract set.
type Template struct {
	ID        types.TemplateID
	Name      string
	Contracts map[string]Definition
}

// Registry resolves (template id, contract name) to procedures. The
// contract set is validated once at registration, so dispatch never meets
// an undefined contract.
type Registry struct {
	mu        sync.RWMutex
	templates map[types.TemplateID]*Template
	logger    *log.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		templates: make(map[types.TemplateID]*Template),
		logger:    log.New(os.Stdout, "[Template] ", log.LstdFlags),
	}
}

// Register validates and installs a template.
func (r *Registry) Register(t *Template) error {
	if t == nil || len(t.Contracts) == 0 {
		return fmt.Errorf("template must define at least one contract")
	}
	for name, def := range t.Contracts {
		if def.Run == nil {
			return fmt.Errorf("template %s: contract %q has no procedure", t.ID, name)
		}
		if def.Name != name {
			return fmt.Errorf("template %s: contract key %q names itself %q", t.ID, name, def.Name)
		}
		if def.Scope != ScopeAsset && def.Scope != ScopeToken {
			return fmt.Errorf("template %s: contract %q has invalid scope %q", t.ID, name, def.Scope)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.templates[t.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTemplate, t.ID)
	}
	r.templates[t.ID] = t
	r.logger.Printf("registered template %s (%s) with %d contracts", t.ID, t.Name, len(t.Contracts))
	return nil
}

// Resolve reports whether the contract exists. Implements the admission
// gate's resolver.
func (r *Registry) Resolve(template types.TemplateID, contract string) bool {
	_, err := r.definition(template, contract)
	return err == nil
}

// Exclusive reports whether the contract refuses concurrent timed
// sub-transactions on its token.
func (r *Registry) Exclusive(template types.TemplateID, contract string) bool {
	def, err := r.definition(template, contract)
	return err == nil && def.Exclusive
}

// Callable reports whether external callers may submit the contract.
func (r *Registry) Callable(template types.TemplateID, contract string) bool {
	def, err := r.definition(template, contract)
	return err == nil && !def.Internal
}

func (r *Registry) definition(template types.TemplateID, contract string) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[template]
	if !ok {
		return Definition{}, fmt.Errorf("%w: template %s", ErrUnknownContract, template)
	}
	def, ok := t.Contracts[contract]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s/%s", ErrUnknownContract, template, contract)
	}
	return def, nil
}

// Execute runs the instruction's contract over a committed snapshot and
// returns the staged outcome. A ContractError from the procedure reaches
// the caller unwrapped so it can drive the instruction Invalid with its
// reason intact.
func (r *Registry) Execute(ctx context.Context, store repository.Store, led *ledger.Ledger, in *types.Instruction) (*Outcome, error) {
	def, err := r.definition(in.TemplateID, in.Contract)
	if err != nil {
		return nil, err
	}
	if def.Scope == ScopeToken && in.TokenID == "" {
		return nil, Failf(in.Contract, "contract requires a token target")
	}
	if def.Scope == ScopeAsset && in.TokenID != "" {
		return nil, Failf(in.Contract, "contract takes no token target")
	}

	c, err := NewContext(ctx, store, led, in)
	if err != nil {
		return nil, err
	}
	if err := def.Run(c); err != nil {
		return nil, err
	}
	return c.Outcome(), nil
}
