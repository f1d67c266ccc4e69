package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/opsboard/opsboard-api/internal/config"
	"github.com/opsboard/opsboard-api/internal/domain"
	"github.com/opsboard/opsboard-api/internal/llm"
	"github.com/opsboard/opsboard-api/internal/pricing"
	"github.com/opsboard/opsboard-api/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	SuggestionSourceAI     = "ai"
	SuggestionSourceManual = "manual"
)

const suggestionSystemPrompt = `You price work for a small service business.
Return ONLY a JSON array. Each element is an object with the keys:
kind (one of project, expense, retainer, discount, adjustment), sourceId, title,
description, quantity, unitLabel, unitAmountCents (integer), groupKey, notesClient.
Price each project with the first rule that applies:
1. If the project matches a catalog plan by name, use that plan's exact setup fee as a
   project line and its exact monthly fee as a retainer line with unitLabel "months".
2. Otherwise, if the project has budgetCents, use the budget as one fixed price line.
3. Otherwise, estimate a fixed price from the project type, tasks and description, staying
   inside the typical range of the closest catalog plan when one is given.
Bill each expense as one line. policy=at_cost bills costCents exactly. policy=markup bills
costCents increased by markupPercent; billedCents shows the result. Never change an expense amount.
Copy sourceId from the item you are pricing.
Discounts carry a positive unitAmountCents. Do not add any text outside the array.`

// PricingSuggestionService proposes quote lines for selected billables. Its output is
// only a starting point; quotes are always created from caller supplied lines.
type PricingSuggestionService struct {
	completer   llm.Completer
	clientRepo  *repository.ClientRepository
	projectRepo *repository.ProjectRepository
	taskRepo    *repository.TaskRepository
	expenseRepo *repository.ExpenseRepository
	catalog     []config.CatalogPlan
	currency    string
	logger      *zap.Logger
}

// NewPricingSuggestionService creates the suggester. completer may be nil when no model is configured.
func NewPricingSuggestionService(
	completer llm.Completer,
	clientRepo *repository.ClientRepository,
	projectRepo *repository.ProjectRepository,
	taskRepo *repository.TaskRepository,
	expenseRepo *repository.ExpenseRepository,
	cfg *config.Config,
	logger *zap.Logger,
) *PricingSuggestionService {
	return &PricingSuggestionService{
		completer:   completer,
		clientRepo:  clientRepo,
		projectRepo: projectRepo,
		taskRepo:    taskRepo,
		expenseRepo: expenseRepo,
		catalog:     cfg.Catalog.Plans,
		currency:    cfg.Stripe.Currency,
		logger:      logger,
	}
}

// Suggest asks the model to price the selected billables. An empty selection
// means every billable item of the client.
func (s *PricingSuggestionService) Suggest(ctx context.Context, clientID uuid.UUID, req *domain.BillableSelectionRequest) (*domain.LineSuggestionDTO, error) {
	if s.completer == nil {
		return nil, fmt.Errorf("%w: pricing suggestions are not configured", ErrExternalService)
	}

	client, projects, expenses, err := s.selection(ctx, clientID, req)
	if err != nil {
		return nil, err
	}

	projectIDs := make([]uuid.UUID, len(projects))
	for i := range projects {
		projectIDs[i] = projects[i].ID
	}
	tasks, err := s.taskRepo.ListByProjects(ctx, projectIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to list project tasks: %w", err)
	}

	prompt := llm.Prompt{
		System: suggestionSystemPrompt,
		User:   s.buildPrompt(client, projects, tasks, expenses),
	}
	raw, err := s.completer.Complete(ctx, prompt)
	if err != nil {
		s.logger.Warn("pricing suggestion failed", zap.String("client_id", clientID.String()), zap.Error(err))
		return nil, externalError("suggest pricing", err)
	}

	lines, err := ParseSuggestedLines(raw)
	if err != nil {
		s.logger.Warn("unusable pricing suggestion", zap.String("client_id", clientID.String()), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrExternalService, err)
	}

	return s.suggestion(clientID, lines, projects, expenses, SuggestionSourceAI), nil
}

// Draft builds lines from the selected billables without a model: project budgets
// become fixed lines and expenses are billed at cost or with their markup.
func (s *PricingSuggestionService) Draft(ctx context.Context, clientID uuid.UUID, req *domain.BillableSelectionRequest) (*domain.LineSuggestionDTO, error) {
	_, projects, expenses, err := s.selection(ctx, clientID, req)
	if err != nil {
		return nil, err
	}

	lines := make([]domain.QuoteLine, 0, len(projects)+len(expenses))
	for i := range projects {
		p := &projects[i]
		id := p.ID
		line := domain.QuoteLine{
			Kind:      domain.LineKindProject,
			SourceID:  &id,
			Title:     p.Name,
			Quantity:  1,
			UnitLabel: "fixed",
			GroupKey:  "Projects",
		}
		if p.Budget != nil {
			line.UnitAmountCents = pricing.MajorToCents(*p.Budget)
		}
		if p.Description != "" {
			desc := p.Description
			line.Description = &desc
		}
		lines = append(lines, line)
	}
	for i := range expenses {
		e := &expenses[i]
		id := e.ID
		line := domain.QuoteLine{
			Kind:            domain.LineKindExpense,
			SourceID:        &id,
			Title:           e.Description,
			Quantity:        1,
			UnitLabel:       "item",
			UnitAmountCents: pricing.MajorToCents(e.BilledAmount()),
			GroupKey:        "Expenses",
		}
		if e.Vendor != "" {
			vendor := e.Vendor
			line.Description = &vendor
		}
		lines = append(lines, line)
	}

	return s.suggestion(clientID, lines, projects, expenses, SuggestionSourceManual), nil
}

func (s *PricingSuggestionService) suggestion(clientID uuid.UUID, lines []domain.QuoteLine, projects []domain.Project, expenses []domain.Expense, source string) *domain.LineSuggestionDTO {
	totals := pricing.ComputeTotals(lines)
	dto := &domain.LineSuggestionDTO{
		ClientID:           clientID,
		Lines:              lines,
		SubtotalCents:      totals.SubtotalCents,
		DiscountCents:      totals.DiscountCents,
		TotalCents:         totals.TotalCents,
		BillableProjectIDs: make([]uuid.UUID, len(projects)),
		BillableExpenseIDs: make([]uuid.UUID, len(expenses)),
		Source:             source,
	}
	for i := range projects {
		dto.BillableProjectIDs[i] = projects[i].ID
	}
	for i := range expenses {
		dto.BillableExpenseIDs[i] = expenses[i].ID
	}
	return dto
}

// selection loads the requested billables and checks they can still be quoted for the client
func (s *PricingSuggestionService) selection(ctx context.Context, clientID uuid.UUID, req *domain.BillableSelectionRequest) (*domain.Client, []domain.Project, []domain.Expense, error) {
	client, err := s.clientRepo.GetByID(ctx, clientID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, nil, ErrClientNotFound
		}
		return nil, nil, nil, fmt.Errorf("failed to get client: %w", err)
	}

	if req == nil || (len(req.ProjectIDs) == 0 && len(req.ExpenseIDs) == 0) {
		projects, err := s.projectRepo.ListBillable(ctx, clientID)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to list billable projects: %w", err)
		}
		expenses, err := s.expenseRepo.ListBillable(ctx, clientID)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to list billable expenses: %w", err)
		}
		return client, projects, expenses, nil
	}

	projectIDs := uniqueIDs(req.ProjectIDs)
	expenseIDs := uniqueIDs(req.ExpenseIDs)
	projects, err := s.projectRepo.GetByIDs(ctx, nil, projectIDs)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load projects: %w", err)
	}
	expenses, err := s.expenseRepo.GetByIDs(ctx, nil, expenseIDs)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load expenses: %w", err)
	}

	fields := map[string]string{}
	var conflicts []string
	if len(projects) != len(projectIDs) {
		fields["projectIds"] = "unknown project"
	}
	if len(expenses) != len(expenseIDs) {
		fields["expenseIds"] = "unknown expense"
	}
	for _, p := range projects {
		switch {
		case p.ClientID != clientID:
			fields["projectIds"] = "project belongs to another client"
		case p.BillingStatus != domain.BillingStatusUnbilled:
			conflicts = append(conflicts, fmt.Sprintf("Project %q", p.Name))
		}
	}
	for _, e := range expenses {
		switch {
		case e.ClientID != clientID:
			fields["expenseIds"] = "expense belongs to another client"
		case e.BillingStatus != domain.BillingStatusUnbilled:
			conflicts = append(conflicts, fmt.Sprintf("Expense %q", e.Description))
		}
	}
	if len(conflicts) > 0 {
		return nil, nil, nil, &BillingConflictError{Conflicts: conflicts}
	}
	if len(fields) > 0 {
		return nil, nil, nil, &ValidationError{Fields: fields}
	}
	return client, projects, expenses, nil
}

// buildPrompt lists the catalog and items in a fixed order so equal inputs give equal prompts
func (s *PricingSuggestionService) buildPrompt(client *domain.Client, projects []domain.Project, tasks map[uuid.UUID][]domain.Task, expenses []domain.Expense) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Client: %s\n", client.Name)
	if client.Company != "" && client.Company != client.Name {
		fmt.Fprintf(&b, "Company: %s\n", client.Company)
	}
	fmt.Fprintf(&b, "Currency: %s\n\n", strings.ToUpper(orDefault(s.currency, "usd")))

	b.WriteString("Catalog:\n")
	if len(s.catalog) == 0 {
		b.WriteString("- none\n")
	}
	for _, plan := range s.catalog {
		fmt.Fprintf(&b, "- %s: setup %d cents, monthly %d cents", plan.Name, plan.SetupFeeCents, plan.MonthlyFeeCents)
		if plan.TypicalHighCents > 0 {
			fmt.Fprintf(&b, ", typical %d-%d cents", plan.TypicalLowCents, plan.TypicalHighCents)
		}
		if plan.Description != "" {
			fmt.Fprintf(&b, ". %s", plan.Description)
		}
		b.WriteString("\n")
	}

	b.WriteString("\nCompleted projects:\n")
	if len(projects) == 0 {
		b.WriteString("- none\n")
	}
	for _, p := range projects {
		fmt.Fprintf(&b, "- sourceId=%s name=%q type=%q", p.ID, p.Name, orDefault(p.ProjectType, "unspecified"))
		if p.Budget != nil {
			fmt.Fprintf(&b, " budgetCents=%d", pricing.MajorToCents(*p.Budget))
		}
		if p.Description != "" {
			fmt.Fprintf(&b, " description=%q", p.Description)
		}
		b.WriteString("\n")
		for _, task := range tasks[p.ID] {
			fmt.Fprintf(&b, "  - task %q status=%s", task.Title, task.Status)
			if task.EstimatedHours != nil {
				fmt.Fprintf(&b, " estimatedHours=%s", task.EstimatedHours.String())
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("\nExpenses:\n")
	if len(expenses) == 0 {
		b.WriteString("- none\n")
	}
	for i := range expenses {
		e := &expenses[i]
		policy := e.PassThrough
		if policy == "" {
			policy = domain.PassThroughAtCost
		}
		fmt.Fprintf(&b, "- sourceId=%s description=%q vendor=%q policy=%s costCents=%d",
			e.ID, e.Description, e.Vendor, policy, pricing.MajorToCents(e.Amount))
		if policy == domain.PassThroughMarkup {
			fmt.Fprintf(&b, " markupPercent=%s", e.MarkupPercent.String())
		}
		fmt.Fprintf(&b, " billedCents=%d\n", pricing.MajorToCents(e.BilledAmount()))
	}
	return b.String()
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// ParseSuggestedLines decodes a model answer into quote lines. The answer must be a
// JSON array, optionally inside a code fence; anything else is an error. Elements are
// coerced field by field into valid lines: mistyped fields fall back to defaults, unknown
// kinds become project, amounts are rounded to whole cents and made non-negative,
// quantity defaults to 1, and taxable is always false. Elements that are not objects
// are skipped, and an array with none is rejected.
func ParseSuggestedLines(raw string) ([]domain.QuoteLine, error) {
	body := llm.StripCodeFence(raw)
	if !strings.HasPrefix(body, "[") {
		return nil, errors.New("suggestion is not a JSON array")
	}

	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	var items []interface{}
	if err := dec.Decode(&items); err != nil {
		return nil, fmt.Errorf("suggestion is not a JSON array: %w", err)
	}
	if dec.More() {
		return nil, errors.New("suggestion has trailing content")
	}

	lines := make([]domain.QuoteLine, 0, len(items))
	for i, item := range items {
		fields, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		lines = append(lines, coerceLine(i, fields))
	}
	if len(items) > 0 && len(lines) == 0 {
		return nil, errors.New("suggestion has no line objects")
	}
	return lines, nil
}

const maxTitleRunes = 200

func coerceLine(index int, fields map[string]interface{}) domain.QuoteLine {
	kind := domain.LineKind(strings.ToLower(stringField(fields, "kind")))
	if !kind.IsValid() {
		kind = domain.LineKindProject
	}

	title := stringField(fields, "title")
	if title == "" {
		title = fmt.Sprintf("Item %d", index+1)
	}
	title = truncateRunes(title, maxTitleRunes)

	quantity := numberField(fields, "quantity", 1)
	if quantity <= 0 {
		quantity = 1
	}
	quantity = math.Min(quantity, domain.MaxLineQuantity)

	cents := math.Abs(math.Round(numberField(fields, "unitAmountCents", 0)))
	cents = math.Min(cents, domain.MaxUnitAmountCents)

	line := domain.QuoteLine{
		Kind:            kind,
		Title:           title,
		Quantity:        quantity,
		UnitLabel:       truncateRunes(stringField(fields, "unitLabel"), 50),
		UnitAmountCents: int64(cents),
		Taxable:         false,
		GroupKey:        truncateRunes(stringField(fields, "groupKey"), 100),
	}
	if line.UnitLabel == "" {
		line.UnitLabel = "fixed"
	}
	if id, err := uuid.Parse(stringField(fields, "sourceId")); err == nil && id != uuid.Nil {
		line.SourceID = &id
	}
	if desc := stringField(fields, "description"); desc != "" {
		line.Description = &desc
	}
	if notes := stringField(fields, "notesClient"); notes != "" {
		line.NotesClient = &notes
	}
	return line
}

// stringField reads a trimmed string, rendering numbers and bools as text.
// Missing, null and structured values read as "".
func stringField(fields map[string]interface{}, key string) string {
	switch v := fields[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// numberField reads a finite number, parsing numeric strings. Anything else gives def.
func numberField(fields map[string]interface{}, key string, def float64) float64 {
	var raw string
	switch v := fields[key].(type) {
	case json.Number:
		raw = v.String()
	case string:
		raw = strings.TrimSpace(v)
	default:
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return def
	}
	return f
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
