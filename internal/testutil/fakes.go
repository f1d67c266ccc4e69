package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opsboard/opsboard-api/internal/domain"
	"github.com/opsboard/opsboard-api/internal/email"
	"github.com/opsboard/opsboard-api/internal/events"
	"github.com/opsboard/opsboard-api/internal/llm"
	"github.com/opsboard/opsboard-api/internal/payments"
)

// FakeInvoiceItem is an item recorded by FakeGateway
type FakeInvoiceItem struct {
	InvoiceID   string
	AmountCents int64
	Description string
}

// FakeGateway is an in-memory payment processor. Like the real one, a repeated
// idempotency key returns the first result instead of creating a new object.
type FakeGateway struct {
	mu        sync.Mutex
	seq       int
	customers map[string]payments.CustomerRequest
	invoices  map[string]*payments.Invoice
	drafts    map[string]payments.DraftInvoiceRequest
	items     map[string][]FakeInvoiceItem
	keys      map[string]string

	// Errors maps an operation name (e.g. "CreateDraftInvoice") to the error it returns
	Errors map[string]error
	Calls  map[string]int
}

func NewFakeGateway() *FakeGateway {
	return &FakeGateway{
		customers: make(map[string]payments.CustomerRequest),
		invoices:  make(map[string]*payments.Invoice),
		drafts:    make(map[string]payments.DraftInvoiceRequest),
		items:     make(map[string][]FakeInvoiceItem),
		keys:      make(map[string]string),
		Errors:    make(map[string]error),
		Calls:     make(map[string]int),
	}
}

// call counts op and returns its injected error. Caller holds mu.
func (g *FakeGateway) call(op string) error {
	g.Calls[op]++
	return g.Errors[op]
}

func (g *FakeGateway) nextID(prefix string) string {
	g.seq++
	return fmt.Sprintf("%s_fake%06d", prefix, g.seq)
}

func (g *FakeGateway) CustomerExists(_ context.Context, customerID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.call("CustomerExists"); err != nil {
		return false, err
	}
	_, ok := g.customers[customerID]
	return ok, nil
}

func (g *FakeGateway) CreateCustomer(_ context.Context, req payments.CustomerRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.call("CreateCustomer"); err != nil {
		return "", err
	}
	if id, ok := g.keys[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return id, nil
	}
	id := g.nextID("cus")
	g.customers[id] = req
	g.keys[req.IdempotencyKey] = id
	return id, nil
}

func (g *FakeGateway) CreateDraftInvoice(_ context.Context, req payments.DraftInvoiceRequest) (*payments.Invoice, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.call("CreateDraftInvoice"); err != nil {
		return nil, err
	}
	if id, ok := g.keys[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		inv := *g.invoices[id]
		return &inv, nil
	}
	id := g.nextID("in")
	g.invoices[id] = &payments.Invoice{ID: id, CustomerID: req.CustomerID, Status: domain.InvoiceStatusDraft}
	g.drafts[id] = req
	g.keys[req.IdempotencyKey] = id
	inv := *g.invoices[id]
	return &inv, nil
}

func (g *FakeGateway) AddInvoiceItem(_ context.Context, req payments.InvoiceItemRequest) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.call("AddInvoiceItem"); err != nil {
		return err
	}
	if _, ok := g.keys[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return nil
	}
	if _, ok := g.invoices[req.InvoiceID]; !ok {
		return fmt.Errorf("no such invoice: %s", req.InvoiceID)
	}
	g.items[req.InvoiceID] = append(g.items[req.InvoiceID], FakeInvoiceItem{
		InvoiceID:   req.InvoiceID,
		AmountCents: req.AmountCents,
		Description: req.Description,
	})
	g.keys[req.IdempotencyKey] = req.InvoiceID
	return nil
}

func (g *FakeGateway) FinalizeInvoice(_ context.Context, invoiceID string) (*payments.Invoice, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.call("FinalizeInvoice"); err != nil {
		return nil, err
	}
	inv, ok := g.invoices[invoiceID]
	if !ok {
		return nil, fmt.Errorf("no such invoice: %s", invoiceID)
	}
	if inv.Status == domain.InvoiceStatusDraft {
		now := time.Now().UTC().Truncate(time.Second)
		inv.Status = domain.InvoiceStatusOpen
		inv.HostedInvoiceURL = "https://invoice.stripe.test/" + invoiceID
		inv.FinalizedAt = &now
		// The processor fixes the due date when the invoice is finalized
		if draft := g.drafts[invoiceID]; draft.DueDate != nil {
			due := draft.DueDate.UTC().Truncate(time.Second)
			inv.DueDate = &due
		} else {
			due := now.AddDate(0, 0, int(draft.DaysUntilDue))
			inv.DueDate = &due
		}
	}
	out := *inv
	return &out, nil
}

func (g *FakeGateway) GetInvoice(_ context.Context, invoiceID string) (*payments.Invoice, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.call("GetInvoice"); err != nil {
		return nil, err
	}
	inv, ok := g.invoices[invoiceID]
	if !ok {
		return nil, fmt.Errorf("no such invoice: %s", invoiceID)
	}
	out := *inv
	return &out, nil
}

// Draft returns the request an invoice was created with
func (g *FakeGateway) Draft(invoiceID string) (payments.DraftInvoiceRequest, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	req, ok := g.drafts[invoiceID]
	return req, ok
}

// SetInvoiceStatus changes an invoice out of band, as the processor dashboard would
func (g *FakeGateway) SetInvoiceStatus(invoiceID string, status domain.InvoiceStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if inv, ok := g.invoices[invoiceID]; ok {
		inv.Status = status
	}
}

// Items returns the items attached to an invoice
func (g *FakeGateway) Items(invoiceID string) []FakeInvoiceItem {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]FakeInvoiceItem(nil), g.items[invoiceID]...)
}

// CustomerCount returns how many distinct customers were created
func (g *FakeGateway) CustomerCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.customers)
}

// InvoiceCount returns how many distinct invoices were created
func (g *FakeGateway) InvoiceCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.invoices)
}

// CallCount returns how often op was invoked
func (g *FakeGateway) CallCount(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.Calls[op]
}

// FakeMailer records messages instead of sending them
type FakeMailer struct {
	mu   sync.Mutex
	Sent []email.Message
	Err  error
	// Calls counts every Send, including failed ones
	Calls int
}

func (m *FakeMailer) Send(_ context.Context, msg email.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.Err != nil {
		return m.Err
	}
	m.Sent = append(m.Sent, msg)
	return nil
}

// FakeCompleter returns a canned model answer
type FakeCompleter struct {
	mu       sync.Mutex
	Response string
	Err      error
	Prompts  []llm.Prompt
}

func (c *FakeCompleter) Complete(_ context.Context, prompt llm.Prompt) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Prompts = append(c.Prompts, prompt)
	if c.Err != nil {
		return "", c.Err
	}
	return c.Response, nil
}

// FakePublisher collects published events
type FakePublisher struct {
	mu     sync.Mutex
	events []events.Event
	keys   []string
}

func (p *FakePublisher) Publish(_ context.Context, key string, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	p.keys = append(p.keys, key)
	return nil
}

func (p *FakePublisher) Close() error { return nil }

// Types returns the published event types in order
func (p *FakePublisher) Types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]events.Type, len(p.events))
	for i, e := range p.events {
		types[i] = e.Type
	}
	return types
}
