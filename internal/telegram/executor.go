package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/opsboard/opsboard-api/internal/auth"
	"github.com/opsboard/opsboard-api/internal/config"
	"github.com/opsboard/opsboard-api/internal/domain"
	"github.com/opsboard/opsboard-api/internal/pricing"
	"github.com/opsboard/opsboard-api/internal/repository"
	"github.com/opsboard/opsboard-api/internal/service"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const listLimit = 20

// HelpText lists what the bot understands
const HelpText = `I can help with:
- list clients (optionally matching a name)
- billables for a client
- quote status for a client
- invoice status for a client
- add an expense, e.g. "add $120 hosting expense for Acme"
- add a task, e.g. "add task 'Fix footer' to Website"`

type ClientDirectory interface {
	Search(ctx context.Context, query string, limit int) ([]domain.ClientDTO, error)
}

type BillableLister interface {
	ForClient(ctx context.Context, clientID uuid.UUID) (*domain.BillablesDTO, error)
}

type QuoteLookup interface {
	LatestForClient(ctx context.Context, clientID uuid.UUID) (*domain.QuoteDTO, error)
}

type InvoiceLookup interface {
	GetByQuoteID(ctx context.Context, quoteID uuid.UUID) (*domain.InvoiceDTO, error)
}

type ProjectLister interface {
	List(ctx context.Context, page, pageSize int, filter *repository.ProjectFilter) (*domain.PaginatedResponse, error)
}

type ExpenseCreator interface {
	Create(ctx context.Context, req *domain.CreateExpenseRequest) (*domain.ExpenseDTO, error)
}

type TaskCreator interface {
	Create(ctx context.Context, req *domain.CreateTaskRequest) (*domain.TaskDTO, error)
}

// Services are the data operations the executor may run
type Services struct {
	Clients   ClientDirectory
	Billables BillableLister
	Quotes    QuoteLookup
	Invoices  InvoiceLookup
	Projects  ProjectLister
	Expenses  ExpenseCreator
	Tasks     TaskCreator
}

// Executor answers allow-listed chats by running parsed intents
type Executor struct {
	parser   Parser
	services Services
	sender   Sender
	allowed  map[int64]bool
	currency string
	logger   *zap.Logger
}

func NewExecutor(parser Parser, services Services, sender Sender, cfg *config.Config, logger *zap.Logger) *Executor {
	allowed := make(map[int64]bool, len(cfg.Telegram.AllowedChatIDs))
	for _, id := range cfg.Telegram.AllowedChatIDs {
		allowed[id] = true
	}
	return &Executor{
		parser:   parser,
		services: services,
		sender:   sender,
		allowed:  allowed,
		currency: cfg.Stripe.Currency,
		logger:   logger.Named("telegram"),
	}
}

// Allowed reports whether the chat may use the bot
func (e *Executor) Allowed(chatID int64) bool {
	return e.allowed[chatID]
}

// HandleUpdate answers one incoming update. Updates without text and updates
// from chats outside the allow-list are dropped.
func (e *Executor) HandleUpdate(ctx context.Context, update *tgbotapi.Update) error {
	if update == nil || update.Message == nil || update.Message.Chat == nil {
		return nil
	}
	msg := update.Message
	chatID := msg.Chat.ID
	log := e.logger.With(zap.Int64("chat_id", chatID), zap.Int("update_id", update.UpdateID))

	if !e.Allowed(chatID) {
		log.Warn("dropping message from chat outside allow-list")
		return nil
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return nil
	}

	user := &auth.UserContext{UserID: fmt.Sprintf("telegram:%d", chatID)}
	if msg.From != nil {
		user.DisplayName = strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
	}
	ctx = auth.WithUserContext(ctx, user)

	var reply string
	if msg.IsCommand() && (msg.Command() == "start" || msg.Command() == "help") {
		reply = HelpText
	} else {
		reply = e.respond(ctx, log, text)
	}
	return e.sender.SendText(ctx, chatID, reply)
}

func (e *Executor) respond(ctx context.Context, log *zap.Logger, text string) string {
	intent, err := e.parser.Parse(ctx, text)
	if err != nil {
		log.Warn("intent parsing failed", zap.Error(err))
		return "Sorry, I could not understand that.\n\n" + HelpText
	}
	log.Info("executing chat action", zap.String("action", string(intent.Action)))

	reply, err := e.Execute(ctx, intent)
	if err != nil {
		log.Warn("chat action failed", zap.String("action", string(intent.Action)), zap.Error(err))
		return userMessage(err)
	}
	return reply
}

// Execute runs an intent and returns the reply text
func (e *Executor) Execute(ctx context.Context, intent *Intent) (string, error) {
	switch intent.Action {
	case ActionListClients:
		return e.listClients(ctx, intent)
	case ActionListBillables:
		return e.listBillables(ctx, intent)
	case ActionQuoteStatus:
		return e.quoteStatus(ctx, intent)
	case ActionInvoiceStatus:
		return e.invoiceStatus(ctx, intent)
	case ActionAddExpense:
		return e.addExpense(ctx, intent)
	case ActionAddTask:
		return e.addTask(ctx, intent)
	default:
		return HelpText, nil
	}
}

func (e *Executor) listClients(ctx context.Context, intent *Intent) (string, error) {
	clients, err := e.services.Clients.Search(ctx, intent.Param("query"), listLimit)
	if err != nil {
		return "", err
	}
	if len(clients) == 0 {
		return "No clients found.", nil
	}
	var b strings.Builder
	b.WriteString("Clients:\n")
	for _, c := range clients {
		fmt.Fprintf(&b, "- %s", c.Name)
		if c.Company != "" && c.Company != c.Name {
			fmt.Fprintf(&b, " (%s)", c.Company)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (e *Executor) listBillables(ctx context.Context, intent *Intent) (string, error) {
	client, err := e.resolveClient(ctx, intent.Param("client"))
	if err != nil {
		return "", err
	}
	billables, err := e.services.Billables.ForClient(ctx, client.ID)
	if err != nil {
		return "", err
	}
	if len(billables.Projects) == 0 && len(billables.Expenses) == 0 {
		return fmt.Sprintf("Nothing to bill for %s.", client.Name), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Billable for %s:\n", client.Name)
	for _, p := range billables.Projects {
		fmt.Fprintf(&b, "- Project: %s", p.Name)
		if p.Budget != nil {
			fmt.Fprintf(&b, " (budget %s)", e.money(decimal.NewFromFloat(*p.Budget)))
		}
		b.WriteString("\n")
	}
	for _, x := range billables.Expenses {
		fmt.Fprintf(&b, "- Expense: %s %s\n", x.Description, e.money(decimal.NewFromFloat(x.Amount)))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (e *Executor) quoteStatus(ctx context.Context, intent *Intent) (string, error) {
	client, err := e.resolveClient(ctx, intent.Param("client"))
	if err != nil {
		return "", err
	}
	quote, err := e.services.Quotes.LatestForClient(ctx, client.ID)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			return fmt.Sprintf("%s has no quotes yet.", client.Name), nil
		}
		return "", err
	}
	return fmt.Sprintf("Latest quote for %s is %s, total %s (%d lines).",
		client.Name, quote.Status, pricing.FormatCents(quote.TotalCents, e.currency), len(quote.Lines)), nil
}

func (e *Executor) invoiceStatus(ctx context.Context, intent *Intent) (string, error) {
	client, err := e.resolveClient(ctx, intent.Param("client"))
	if err != nil {
		return "", err
	}
	quote, err := e.services.Quotes.LatestForClient(ctx, client.ID)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			return fmt.Sprintf("%s has no quotes yet.", client.Name), nil
		}
		return "", err
	}
	invoice, err := e.services.Invoices.GetByQuoteID(ctx, quote.ID)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			return fmt.Sprintf("The latest quote for %s is %s and not invoiced yet.", client.Name, quote.Status), nil
		}
		return "", err
	}

	reply := fmt.Sprintf("Invoice %s for %s is %s, total %s.",
		invoice.InvoiceNumber, client.Name, invoice.Status, e.money(decimal.NewFromFloat(invoice.Total)))
	if invoice.EmailSentAt != nil {
		reply += " Emailed to the client."
	}
	if invoice.HostedInvoiceURL != nil && invoice.Status == domain.InvoiceStatusOpen {
		reply += "\n" + *invoice.HostedInvoiceURL
	}
	return reply, nil
}

func (e *Executor) addExpense(ctx context.Context, intent *Intent) (string, error) {
	client, err := e.resolveClient(ctx, intent.Param("client"))
	if err != nil {
		return "", err
	}
	amount, err := parseAmount(intent.Param("amount"))
	if err != nil {
		return "", err
	}
	description := intent.Param("description")
	if description == "" {
		return "", fmt.Errorf("%w: an expense needs a description", service.ErrInvalidInput)
	}

	now := time.Now().UTC()
	req := &domain.CreateExpenseRequest{
		ClientID:    client.ID,
		Description: description,
		Vendor:      intent.Param("vendor"),
		Category:    intent.Param("category"),
		Amount:      amount.InexactFloat64(),
		IncurredOn:  &now,
		PassThrough: domain.PassThroughAtCost,
	}
	if name := intent.Param("project"); name != "" {
		project, err := e.resolveProject(ctx, &client.ID, name)
		if err != nil {
			return "", err
		}
		req.ProjectID = &project.ID
	}

	expense, err := e.services.Expenses.Create(ctx, req)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Added expense %q of %s for %s.",
		expense.Description, e.money(decimal.NewFromFloat(expense.Amount)), client.Name), nil
}

func (e *Executor) addTask(ctx context.Context, intent *Intent) (string, error) {
	title := intent.Param("title")
	if title == "" {
		return "", fmt.Errorf("%w: a task needs a title", service.ErrInvalidInput)
	}
	var clientID *uuid.UUID
	if name := intent.Param("client"); name != "" {
		client, err := e.resolveClient(ctx, name)
		if err != nil {
			return "", err
		}
		clientID = &client.ID
	}
	project, err := e.resolveProject(ctx, clientID, intent.Param("project"))
	if err != nil {
		return "", err
	}

	task, err := e.services.Tasks.Create(ctx, &domain.CreateTaskRequest{
		ProjectID: project.ID,
		Title:     title,
		Status:    domain.TaskStatusTodo,
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Added task %q to %s.", task.Title, project.Name), nil
}

// resolveClient prefers an exact name match and otherwise needs a unique partial match
func (e *Executor) resolveClient(ctx context.Context, name string) (*domain.ClientDTO, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: which client?", service.ErrInvalidInput)
	}
	clients, err := e.services.Clients.Search(ctx, name, 5)
	if err != nil {
		return nil, err
	}
	for i := range clients {
		if strings.EqualFold(clients[i].Name, name) {
			return &clients[i], nil
		}
	}
	switch len(clients) {
	case 0:
		return nil, fmt.Errorf("%w: no client matches %q", service.ErrNotFound, name)
	case 1:
		return &clients[0], nil
	}
	names := make([]string, len(clients))
	for i, c := range clients {
		names[i] = c.Name
	}
	return nil, fmt.Errorf("%w: %q matches %s", service.ErrInvalidInput, name, strings.Join(names, ", "))
}

func (e *Executor) resolveProject(ctx context.Context, clientID *uuid.UUID, name string) (*domain.ProjectDTO, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: which project?", service.ErrInvalidInput)
	}
	page, err := e.services.Projects.List(ctx, 1, 200, &repository.ProjectFilter{ClientID: clientID})
	if err != nil {
		return nil, err
	}
	projects, _ := page.Data.([]domain.ProjectDTO)

	var matches []domain.ProjectDTO
	for _, p := range projects {
		if strings.EqualFold(p.Name, name) {
			return &p, nil
		}
		if strings.Contains(strings.ToLower(p.Name), strings.ToLower(name)) {
			matches = append(matches, p)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: no project matches %q", service.ErrNotFound, name)
	case 1:
		return &matches[0], nil
	}
	return nil, fmt.Errorf("%w: %q matches %d projects", service.ErrInvalidInput, name, len(matches))
}

func (e *Executor) money(amount decimal.Decimal) string {
	return pricing.FormatCents(pricing.MajorToCents(amount), e.currency)
}

func parseAmount(raw string) (decimal.Decimal, error) {
	cleaned := strings.NewReplacer("$", "", "€", "", "£", "", ",", "", " ", "").Replace(raw)
	amount, err := decimal.NewFromString(cleaned)
	if err != nil || !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %q is not an amount", service.ErrInvalidInput, raw)
	}
	return amount.Round(2), nil
}

// userMessage turns a service error into a chat reply
func userMessage(err error) string {
	var validation *service.ValidationError
	switch {
	case errors.As(err, &validation):
		return "That did not work: " + validation.Error()
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrConflict):
		return "That did not work: " + err.Error()
	default:
		return "Something went wrong, please try again later."
	}
}
