package server

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"document-qa/internal/models"
	"document-qa/internal/ratelimit"
	"document-qa/internal/service"
	"document-qa/internal/session"
)

const uploadField = "csv_file"

type askRequest struct {
	UserQuestion string `json:"user_question"`
}

type askResponse struct {
	Answer      string         `json:"answer"`
	Sources     []models.Chunk `json:"sources"`
	ChatHistory []models.Turn  `json:"chat_history"`
}

type processResponse struct {
	Status string `json:"status"`
	Chunks int    `json:"chunks"`
}

type historyResponse struct {
	Document    *session.Info `json:"document,omitempty"`
	ChatHistory []models.Turn `json:"chat_history"`
}

type documentHandler struct {
	svc *service.DocumentService
}

func (h *documentHandler) RegisterRoutes(r fiber.Router, limiter ratelimit.Limiter) {
	limited := func(c *fiber.Ctx) error { return c.Next() }
	if limiter != nil {
		limited = ratelimit.New(ratelimit.Config{Limiter: limiter})
	}

	r.Get("/", h.Home)
	r.Get("/healthz", h.Health)
	r.Get("/history", sessionID, h.History)
	r.Post("/process", limited, sessionID, h.Process)
	r.Post("/ask_question", limited, sessionID, h.Ask)
}

// sessionID resolves the caller's session from the X-Session-ID header
func sessionID(c *fiber.Ctx) error {
	// header values alias the request buffer, which fasthttp reuses
	id := utils.CopyString(c.Get(models.SessionHeader))
	if id == "" {
		id = models.DefaultSessionID
	}
	if err := session.ValidateID(id); err != nil {
		return err
	}
	c.Locals(sessionLocal, id)
	return c.Next()
}

func (h *documentHandler) Home(c *fiber.Ctx) error {
	return c.SendString(models.Greeting)
}

func (h *documentHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *documentHandler) Process(c *fiber.Ctx) error {
	fh, err := c.FormFile(uploadField)
	if err != nil {
		return fmt.Errorf("%w: multipart field %q is required", models.ErrInvalidInput, uploadField)
	}
	file, err := fh.Open()
	if err != nil {
		return fmt.Errorf("%w: cannot read upload: %v", models.ErrInvalidInput, err)
	}
	defer file.Close()

	res, err := h.svc.Process(c.UserContext(), c.Locals(sessionLocal).(string), fh.Filename, file)
	if err != nil {
		return err
	}
	return c.JSON(processResponse{Status: "success", Chunks: res.Chunks})
}

func (h *documentHandler) Ask(c *fiber.Ctx) error {
	var req askRequest
	if err := c.BodyParser(&req); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", models.ErrInvalidInput, err)
	}

	resp, err := h.svc.Ask(c.UserContext(), c.Locals(sessionLocal).(string), req.UserQuestion)
	if err != nil {
		return err
	}
	return c.JSON(askResponse{
		Answer:      resp.Content,
		Sources:     resp.Sources,
		ChatHistory: resp.History,
	})
}

func (h *documentHandler) History(c *fiber.Ctx) error {
	id := c.Locals(sessionLocal).(string)
	history, err := h.svc.History(c.UserContext(), id)
	if err != nil {
		return err
	}

	res := historyResponse{ChatHistory: history}
	if info, ok := h.svc.Info(id); ok {
		res.Document = &info
	}
	return c.JSON(res)
}
