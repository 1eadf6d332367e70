package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/gofiber/fiber/v2"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/yurifrl/budgetimport/pkg/config"
	"github.com/yurifrl/budgetimport/pkg/csv"
	"github.com/yurifrl/budgetimport/pkg/importer"
	"github.com/yurifrl/budgetimport/pkg/models"
	"github.com/yurifrl/budgetimport/pkg/parser"
	"github.com/yurifrl/budgetimport/pkg/rules"
	"github.com/yurifrl/budgetimport/pkg/store"
	"github.com/yurifrl/budgetimport/pkg/ynab"
)

const maxUploadSize = 20 << 20

// Server exposes the import pipeline over HTTP.
type Server struct {
	config   *config.Config
	logger   *log.Logger
	app      *fiber.App
	importer *importer.Importer
	ledger   *store.Ledger
	// imports against the shared ledger run one at a time
	mu sync.Mutex
}

// New creates a new HTTP server
func New(config *config.Config, logger *log.Logger, imp *importer.Importer, ledger *store.Ledger) *Server {
	s := &Server{
		config:   config,
		logger:   logger,
		importer: imp,
		ledger:   ledger,
		app: fiber.New(fiber.Config{
			BodyLimit:             maxUploadSize,
			DisableStartupMessage: true,
		}),
	}
	s.setupRoutes()
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	return s.app.Listen(addr)
}

func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func (s *Server) setupRoutes() {
	s.app.Use(fiberrecover.New())
	s.app.Use(s.withLogging)

	api := s.app.Group("/api")
	api.Get("/health", s.handleHealth)
	api.Post("/import", s.handleImport)
	api.Get("/ledger", s.handleAccounts)
	api.Get("/ledger/:account", s.handleLedger)
	api.Get("/export/:account", s.handleExport)
	api.Get("/rules", s.handleGetRules)
	api.Put("/rules", s.handlePutRules)
	api.Get("/budgets", s.handleBudgets)
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// handleImport runs the pipeline on an uploaded file. The ledger is only
// written when apply=true.
func (s *Server) handleImport(c *fiber.Ctx) error {
	accountID := c.FormValue("account_id")
	if accountID == "" {
		return s.respondError(c, fiber.StatusBadRequest, "account_id required", nil)
	}

	fh, err := c.FormFile("statement")
	if err != nil {
		return s.respondError(c, fiber.StatusBadRequest, "statement file required", err)
	}
	file, err := fh.Open()
	if err != nil {
		return s.respondError(c, fiber.StatusInternalServerError, "failed to read file", err)
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return s.respondError(c, fiber.StatusInternalServerError, "failed to read file", err)
	}

	format, ok := parser.ParseFormat(c.FormValue("format"))
	if !ok {
		return s.respondError(c, fiber.StatusBadRequest, "unknown format", nil)
	}
	var mapping models.FieldMapping
	if raw := c.FormValue("mapping"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &mapping); err != nil {
			return s.respondError(c, fiber.StatusBadRequest, "invalid mapping", err)
		}
	}
	apply, _ := strconv.ParseBool(c.FormValue("apply"))
	applyAll := s.config.Import.ApplyAllMatches
	if v := c.FormValue("apply_all_matches"); v != "" {
		applyAll, _ = strconv.ParseBool(v)
	}

	ctx := c.UserContext()
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.ledger.Transactions(ctx, accountID)
	if err != nil {
		return s.respondError(c, fiber.StatusInternalServerError, "failed to load ledger", err)
	}
	rs, err := s.ledger.Rules(ctx)
	if err != nil {
		return s.respondError(c, fiber.StatusInternalServerError, "failed to load rules", err)
	}

	res, err := s.importer.Import(data, importer.Request{
		Format:          format,
		Mapping:         mapping,
		AccountID:       accountID,
		Existing:        existing,
		Rules:           rs,
		ApplyAllMatches: applyAll,
	})
	if err != nil {
		var inputErr *models.InputError
		var parseErr *models.ParseError
		switch {
		case errors.As(err, &inputErr):
			return s.respondError(c, fiber.StatusBadRequest, inputErr.Error(), err)
		case errors.As(err, &parseErr):
			return s.respondError(c, fiber.StatusUnprocessableEntity, parseErr.Error(), err)
		}
		return s.respondError(c, fiber.StatusInternalServerError, "import failed", err)
	}

	if apply {
		if _, err := s.ledger.Merge(ctx, accountID, res.Added, res.Updated); err != nil {
			return s.respondError(c, fiber.StatusInternalServerError, "failed to store ledger", err)
		}
		if err := s.ledger.RecordRuleStats(ctx, res.RuleUpdates); err != nil {
			return s.respondError(c, fiber.StatusInternalServerError, "failed to store rule stats", err)
		}
	}

	s.logger.Info("import handled", "file", fh.Filename, "account_id", accountID, "applied", apply,
		"added", res.Stats.Added, "duplicates", res.Stats.Duplicates, "errors", res.Stats.Errors)

	return c.JSON(fiber.Map{
		"status":       "success",
		"file":         fh.Filename,
		"format":       res.Format,
		"mapping":      res.Mapping,
		"transactions": res.Transactions,
		"stats":        res.Stats,
		"rule_updates": res.RuleUpdates,
		"applied":      apply,
	})
}

func (s *Server) handleAccounts(c *fiber.Ctx) error {
	accounts, err := s.ledger.Accounts(c.UserContext())
	if err != nil {
		return s.respondError(c, fiber.StatusInternalServerError, "failed to list accounts", err)
	}
	return c.JSON(fiber.Map{"status": "success", "accounts": accounts})
}

func (s *Server) handleLedger(c *fiber.Ctx) error {
	txs, err := s.ledger.Transactions(c.UserContext(), c.Params("account"))
	if err != nil {
		return s.respondError(c, fiber.StatusInternalServerError, "failed to load ledger", err)
	}
	if txs == nil {
		txs = []models.Transaction{}
	}
	return c.JSON(fiber.Map{"status": "success", "transactions": txs})
}

func (s *Server) handleExport(c *fiber.Ctx) error {
	account := c.Params("account")
	txs, err := s.ledger.Transactions(c.UserContext(), account)
	if err != nil {
		return s.respondError(c, fiber.StatusInternalServerError, "failed to load ledger", err)
	}
	out, err := csv.Create(txs, nil)
	if err != nil {
		return s.respondError(c, fiber.StatusInternalServerError, "failed to render csv", err)
	}
	c.Set(fiber.HeaderContentType, "text/csv")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=\"%s.csv\"", account))
	return c.Send(out)
}

func (s *Server) handleGetRules(c *fiber.Ctx) error {
	rs, err := s.ledger.Rules(c.UserContext())
	if err != nil {
		return s.respondError(c, fiber.StatusInternalServerError, "failed to load rules", err)
	}
	return c.JSON(rules.File{Rules: rules.Encode(rs)})
}

func (s *Server) handlePutRules(c *fiber.Ctx) error {
	var f rules.File
	if err := json.Unmarshal(c.Body(), &f); err != nil {
		return s.respondError(c, fiber.StatusBadRequest, "invalid rules body", err)
	}
	rs, err := rules.Decode(f.Rules)
	if err != nil {
		return s.respondError(c, fiber.StatusBadRequest, err.Error(), err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ledger.SaveRules(c.UserContext(), rs); err != nil {
		return s.respondError(c, fiber.StatusInternalServerError, "failed to store rules", err)
	}
	return c.JSON(fiber.Map{"status": "success", "rules": len(rs)})
}

func (s *Server) handleBudgets(c *fiber.Ctx) error {
	token := c.Query("token")
	if token == "" {
		token = s.config.YNAB.Token()
	}
	if token == "" {
		return s.respondError(c, fiber.StatusBadRequest, "token required", nil)
	}

	budgets, err := ynab.New(token).Budget().GetBudgets()
	if err != nil {
		return s.respondError(c, fiber.StatusBadGateway, "failed to fetch budgets", err)
	}
	s.logger.Info("budgets response", "budgets_count", len(budgets))
	return c.JSON(fiber.Map{"status": "success", "budgets": budgets})
}

// --- helpers ---

// respondError logs the error and returns a minimal JSON error body.
func (s *Server) respondError(c *fiber.Ctx, status int, message string, err error) error {
	if err != nil {
		s.logger.Warn("request error", "status", status, "msg", message, "err", err, "method", c.Method(), "path", c.Path())
	} else {
		s.logger.Warn("request error", "status", status, "msg", message, "method", c.Method(), "path", c.Path())
	}
	return c.Status(status).JSON(fiber.Map{
		"status": "error",
		"error":  message,
	})
}

// withLogging logs every request before handing it on.
func (s *Server) withLogging(c *fiber.Ctx) error {
	s.logger.Debug("http request", "method", c.Method(), "path", c.Path(), "remote", c.IP())
	return c.Next()
}
