package telegram_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/opsboard/opsboard-api/internal/config"
	"github.com/opsboard/opsboard-api/internal/domain"
	"github.com/opsboard/opsboard-api/internal/repository"
	"github.com/opsboard/opsboard-api/internal/service"
	"github.com/opsboard/opsboard-api/internal/telegram"
	"github.com/opsboard/opsboard-api/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const allowedChat int64 = 4242

type sentMessage struct {
	chatID int64
	text   string
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (s *recordingSender) SendText(_ context.Context, chatID int64, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentMessage{chatID: chatID, text: text})
	return nil
}

type staticParser struct {
	intent *telegram.Intent
	err    error
}

func (p *staticParser) Parse(context.Context, string) (*telegram.Intent, error) {
	return p.intent, p.err
}

func newExecutor(t *testing.T, db *gorm.DB, parser telegram.Parser, sender telegram.Sender) *telegram.Executor {
	t.Helper()
	log := zap.NewNop()
	clientRepo := repository.NewClientRepository(db)
	projectRepo := repository.NewProjectRepository(db)
	expenseRepo := repository.NewExpenseRepository(db)
	quoteRepo := repository.NewQuoteRepository(db)
	invoiceRepo := repository.NewInvoiceRepository(db)
	cfg := &config.Config{
		Stripe:   config.StripeConfig{Currency: "usd"},
		Telegram: config.TelegramConfig{AllowedChatIDs: []int64{allowedChat}},
	}

	services := telegram.Services{
		Clients:   service.NewClientService(clientRepo, log),
		Billables: service.NewBillableService(clientRepo, projectRepo, expenseRepo),
		Quotes:    service.NewQuoteService(quoteRepo, clientRepo, projectRepo, expenseRepo, &testutil.FakePublisher{}, log, db),
		Invoices: service.NewInvoiceService(invoiceRepo, quoteRepo, clientRepo, projectRepo, expenseRepo,
			testutil.NewFakeGateway(), &testutil.FakePublisher{}, &cfg.Stripe, log, db),
		Projects: service.NewProjectService(projectRepo, clientRepo, log),
		Expenses: service.NewExpenseService(expenseRepo, clientRepo, projectRepo, log),
		Tasks:    service.NewTaskService(repository.NewTaskRepository(db), projectRepo, log),
	}
	return telegram.NewExecutor(parser, services, sender, cfg, log)
}

func textUpdate(chatID int64, text string) *tgbotapi.Update {
	return &tgbotapi.Update{
		UpdateID: 1,
		Message: &tgbotapi.Message{
			MessageID: 7,
			Chat:      &tgbotapi.Chat{ID: chatID},
			From:      &tgbotapi.User{ID: 99, FirstName: "Sam"},
			Text:      text,
		},
	}
}

func TestExecutor_IgnoresChatsOutsideAllowList(t *testing.T) {
	db := testutil.SetupTestDB(t)
	sender := &recordingSender{}
	parser := &staticParser{intent: &telegram.Intent{Action: telegram.ActionListClients}}
	exec := newExecutor(t, db, parser, sender)

	require.NoError(t, exec.HandleUpdate(context.Background(), textUpdate(1, "list clients")))
	assert.Empty(t, sender.sent)
	assert.False(t, exec.Allowed(1))
	assert.True(t, exec.Allowed(allowedChat))
}

func TestExecutor_HelpCommand(t *testing.T) {
	db := testutil.SetupTestDB(t)
	sender := &recordingSender{}
	exec := newExecutor(t, db, &staticParser{err: errors.New("must not be called")}, sender)

	update := textUpdate(allowedChat, "/help")
	update.Message.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 5}}
	require.NoError(t, exec.HandleUpdate(context.Background(), update))

	require.Len(t, sender.sent, 1)
	assert.Equal(t, allowedChat, sender.sent[0].chatID)
	assert.Equal(t, telegram.HelpText, sender.sent[0].text)
}

func TestExecutor_UnparseableMessageGetsHelp(t *testing.T) {
	db := testutil.SetupTestDB(t)
	sender := &recordingSender{}
	exec := newExecutor(t, db, &staticParser{err: errors.New("not json")}, sender)

	require.NoError(t, exec.HandleUpdate(context.Background(), textUpdate(allowedChat, "hmm")))
	require.Len(t, sender.sent, 1)
	assert.Contains(t, sender.sent[0].text, telegram.HelpText)
}

func TestExecutor_ListClients(t *testing.T) {
	db := testutil.SetupTestDB(t)
	testutil.CreateTestClient(t, db, "Acme")
	testutil.CreateTestClient(t, db, "Globex")
	sender := &recordingSender{}
	parser := &staticParser{intent: &telegram.Intent{Action: telegram.ActionListClients, Params: map[string]string{}}}
	exec := newExecutor(t, db, parser, sender)

	require.NoError(t, exec.HandleUpdate(context.Background(), textUpdate(allowedChat, "who are my clients")))
	require.Len(t, sender.sent, 1)
	assert.Contains(t, sender.sent[0].text, "- Acme")
	assert.Contains(t, sender.sent[0].text, "- Globex")
}

func TestExecutor_ListBillables(t *testing.T) {
	db := testutil.SetupTestDB(t)
	client := testutil.CreateTestClient(t, db, "Acme")
	testutil.CreateTestProject(t, db, client.ID, "Website", domain.ProjectStatusCompleted)
	testutil.CreateTestProject(t, db, client.ID, "Redesign", domain.ProjectStatusActive)
	testutil.CreateTestExpense(t, db, client.ID, "Hosting", "120.00")
	exec := newExecutor(t, db, &staticParser{}, &recordingSender{})

	reply, err := exec.Execute(context.Background(), &telegram.Intent{
		Action: telegram.ActionListBillables,
		Params: map[string]string{"client": "acme"},
	})
	require.NoError(t, err)
	assert.Contains(t, reply, "Project: Website")
	assert.NotContains(t, reply, "Redesign")
	assert.Contains(t, reply, "Expense: Hosting $120.00")
}

func TestExecutor_QuoteAndInvoiceStatus(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	client := testutil.CreateTestClient(t, db, "Acme")
	exec := newExecutor(t, db, &staticParser{}, &recordingSender{})
	params := map[string]string{"client": "Acme"}

	reply, err := exec.Execute(ctx, &telegram.Intent{Action: telegram.ActionQuoteStatus, Params: params})
	require.NoError(t, err)
	assert.Equal(t, "Acme has no quotes yet.", reply)

	testutil.CreateTestQuote(t, db, client.ID, domain.QuoteStatusLocked, []domain.QuoteLine{testutil.ProjectLine("Website", 505000)})

	reply, err = exec.Execute(ctx, &telegram.Intent{Action: telegram.ActionQuoteStatus, Params: params})
	require.NoError(t, err)
	assert.Contains(t, reply, "locked")
	assert.Contains(t, reply, "$5,050.00")

	reply, err = exec.Execute(ctx, &telegram.Intent{Action: telegram.ActionInvoiceStatus, Params: params})
	require.NoError(t, err)
	assert.Contains(t, reply, "not invoiced yet")
}

func TestExecutor_AddExpense(t *testing.T) {
	db := testutil.SetupTestDB(t)
	client := testutil.CreateTestClient(t, db, "Acme")
	testutil.CreateTestProject(t, db, client.ID, "Website", domain.ProjectStatusActive)
	sender := &recordingSender{}
	parser := &staticParser{intent: &telegram.Intent{
		Action: telegram.ActionAddExpense,
		Params: map[string]string{
			"client":      "Acme",
			"amount":      "$1,250.50",
			"description": "Stock photos",
			"project":     "web",
		},
	}}
	exec := newExecutor(t, db, parser, sender)

	require.NoError(t, exec.HandleUpdate(context.Background(), textUpdate(allowedChat, "add 1250.50 for photos")))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, `Added expense "Stock photos" of $1,250.50 for Acme.`, sender.sent[0].text)

	var expense domain.Expense
	require.NoError(t, db.Where("client_id = ?", client.ID).First(&expense).Error)
	assert.True(t, decimal.RequireFromString("1250.50").Equal(expense.Amount))
	assert.NotNil(t, expense.ProjectID)
	assert.Equal(t, domain.BillingStatusUnbilled, expense.BillingStatus)
}

func TestExecutor_AddTask(t *testing.T) {
	db := testutil.SetupTestDB(t)
	client := testutil.CreateTestClient(t, db, "Acme")
	project := testutil.CreateTestProject(t, db, client.ID, "Website", domain.ProjectStatusActive)
	exec := newExecutor(t, db, &staticParser{}, &recordingSender{})

	reply, err := exec.Execute(context.Background(), &telegram.Intent{
		Action: telegram.ActionAddTask,
		Params: map[string]string{"project": "website", "title": "Fix footer"},
	})
	require.NoError(t, err)
	assert.Equal(t, `Added task "Fix footer" to Website.`, reply)

	var task domain.Task
	require.NoError(t, db.Where("project_id = ?", project.ID).First(&task).Error)
	assert.Equal(t, domain.TaskStatusTodo, task.Status)
}

func TestExecutor_ErrorsBecomeReplies(t *testing.T) {
	db := testutil.SetupTestDB(t)
	testutil.CreateTestClient(t, db, "Acme North")
	testutil.CreateTestClient(t, db, "Acme South")
	sender := &recordingSender{}
	parser := &staticParser{intent: &telegram.Intent{
		Action: telegram.ActionQuoteStatus,
		Params: map[string]string{"client": "acme"},
	}}
	exec := newExecutor(t, db, parser, sender)

	require.NoError(t, exec.HandleUpdate(context.Background(), textUpdate(allowedChat, "quote for acme?")))
	require.Len(t, sender.sent, 1)
	assert.Contains(t, sender.sent[0].text, "That did not work")
	assert.Contains(t, sender.sent[0].text, "Acme North")

	_, err := exec.Execute(context.Background(), &telegram.Intent{
		Action: telegram.ActionAddExpense,
		Params: map[string]string{"client": "Acme North", "amount": "lots", "description": "x"},
	})
	assert.ErrorIs(t, err, service.ErrInvalidInput)
}

func TestExecutor_UnknownActionAnswersHelp(t *testing.T) {
	db := testutil.SetupTestDB(t)
	exec := newExecutor(t, db, &staticParser{}, &recordingSender{})

	reply, err := exec.Execute(context.Background(), &telegram.Intent{Action: telegram.ActionUnknown})
	require.NoError(t, err)
	assert.Equal(t, telegram.HelpText, reply)
}
