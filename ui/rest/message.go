package rest

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	pkgError "github.com/businesswalrus/pup.ai/pkg/error"
	"github.com/businesswalrus/pup.ai/pkg/msgworker"
	"github.com/businesswalrus/pup.ai/pkg/utils"
	"github.com/businesswalrus/pup.ai/responder"
	"github.com/businesswalrus/pup.ai/responder/domain"
	"github.com/businesswalrus/pup.ai/validations"
)

type Message struct {
	Engine *responder.Engine
	Pool   *msgworker.Pool
}

func InitRestMessage(app fiber.Router, engine *responder.Engine, pool *msgworker.Pool) Message {
	rest := Message{Engine: engine, Pool: pool}
	app.Post("/messages", rest.Generate)
	return rest
}

// Generate accepts one inbound chat message, routes it through the worker
// pool so per-conversation ordering holds, and waits for the reply.
func (handler *Message) Generate(c *fiber.Ctx) error {
	var request domain.GenerateRequest
	if err := c.BodyParser(&request); err != nil {
		utils.PanicIfNeeded(pkgError.ValidationError("invalid request body: " + err.Error()))
	}

	utils.PanicIfNeeded(validations.ValidateGenerateMessage(c.UserContext(), request))

	type outcome struct {
		completion domain.Completion
		err        error
	}
	done := make(chan outcome, 1)

	accepted := handler.Pool.TryDispatch(msgworker.Job{
		Request: request,
		Run: func(ctx context.Context) error {
			completion, err := handler.Engine.Generate(ctx, request)
			done <- outcome{completion: completion, err: err}
			return err
		},
	})
	if !accepted {
		return c.Status(fiber.StatusServiceUnavailable).JSON(utils.ResponseData{
			Status:  fiber.StatusServiceUnavailable,
			Code:    "QUEUE_FULL",
			Message: "Message queue is full, try again later",
		})
	}

	select {
	case result := <-done:
		if result.err != nil {
			return writeEngineError(c, result.err)
		}
		return c.JSON(utils.ResponseData{
			Status:  200,
			Code:    "SUCCESS",
			Message: "Reply generated",
			Results: result.completion,
		})
	case <-c.UserContext().Done():
		return c.Status(fiber.StatusRequestTimeout).JSON(utils.ResponseData{
			Status:  fiber.StatusRequestTimeout,
			Code:    "REQUEST_CANCELLED",
			Message: "Client went away before the reply was ready",
		})
	}
}

// writeEngineError maps the engine's failure taxonomy onto HTTP statuses.
func writeEngineError(c *fiber.Ctx, err error) error {
	var tmplErr *domain.TemplateError
	if errors.As(err, &tmplErr) {
		return c.Status(fiber.StatusBadRequest).JSON(utils.ResponseData{
			Status:  fiber.StatusBadRequest,
			Code:    "TEMPLATE_ERROR",
			Message: err.Error(),
		})
	}
	if errors.Is(err, domain.ErrNoProviderAvailable) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(utils.ResponseData{
			Status:  fiber.StatusServiceUnavailable,
			Code:    "NO_PROVIDER_AVAILABLE",
			Message: err.Error(),
		})
	}

	status := fiber.StatusBadGateway
	code := "UPSTREAM_ERROR"
	switch domain.KindOf(err) {
	case domain.ErrRateLimited:
		status = fiber.StatusTooManyRequests
		code = "RATE_LIMITED"
	case domain.ErrUnavailable:
		status = fiber.StatusServiceUnavailable
		code = "UPSTREAM_UNAVAILABLE"
	case domain.ErrSafetyFiltered:
		code = "SAFETY_FILTERED"
	case domain.ErrMalformedResponse:
		code = "MALFORMED_UPSTREAM_RESPONSE"
	case domain.ErrUnauthorized:
		code = "UPSTREAM_UNAUTHORIZED"
	}

	return c.Status(status).JSON(utils.ResponseData{
		Status:  status,
		Code:    code,
		Message: err.Error(),
	})
}
