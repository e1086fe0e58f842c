package rest

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	pkgError "github.com/businesswalrus/pup.ai/pkg/error"
	"github.com/businesswalrus/pup.ai/pkg/msgworker"
	"github.com/businesswalrus/pup.ai/pkg/utils"
	"github.com/businesswalrus/pup.ai/responder"
	"github.com/businesswalrus/pup.ai/responder/domain"
	"github.com/businesswalrus/pup.ai/validations"
)

type Admin struct {
	Engine *responder.Engine
	Pool   *msgworker.Pool
}

func InitRestAdmin(app fiber.Router, engine *responder.Engine, pool *msgworker.Pool) Admin {
	rest := Admin{Engine: engine, Pool: pool}

	app.Get("/status", rest.GetStatus)
	app.Post("/cache/clear", rest.ClearCache)
	app.Post("/context/clear", rest.ClearContext)
	app.Post("/provider/switch", rest.SwitchProvider)
	app.Get("/monitor/events", rest.GetMonitorEvents)
	app.Get("/workers/stats", rest.GetWorkerStats)

	return rest
}

func (handler *Admin) GetStatus(c *fiber.Ctx) error {
	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Engine status retrieved",
		Results: handler.Engine.Status(c.UserContext()),
	})
}

func (handler *Admin) ClearCache(c *fiber.Ctx) error {
	err := handler.Engine.ClearCache(c.UserContext())
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Response cache cleared",
	})
}

func (handler *Admin) ClearContext(c *fiber.Ctx) error {
	var request domain.ConversationKey
	if err := c.BodyParser(&request); err != nil {
		utils.PanicIfNeeded(pkgError.ValidationError("invalid request body: " + err.Error()))
	}
	utils.PanicIfNeeded(validations.ValidateClearContext(c.UserContext(), request))

	handler.Engine.ClearConversation(request)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Conversation context cleared",
	})
}

func (handler *Admin) SwitchProvider(c *fiber.Ctx) error {
	var request struct {
		Provider string `json:"provider"`
	}
	if err := c.BodyParser(&request); err != nil {
		utils.PanicIfNeeded(pkgError.ValidationError("invalid request body: " + err.Error()))
	}
	if request.Provider == "" {
		utils.PanicIfNeeded(pkgError.ValidationError("provider: cannot be blank"))
	}

	if err := handler.Engine.SwitchProvider(request.Provider); err != nil {
		if errors.Is(err, domain.ErrProviderNotRegistered) {
			utils.PanicIfNeeded(pkgError.NotFoundError(err.Error()))
		}
		return c.Status(fiber.StatusConflict).JSON(utils.ResponseData{
			Status:  fiber.StatusConflict,
			Code:    "PROVIDER_UNAVAILABLE",
			Message: err.Error(),
		})
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Active provider switched to " + request.Provider,
	})
}

func (handler *Admin) GetMonitorEvents(c *fiber.Ctx) error {
	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Monitor events retrieved",
		Results: handler.Engine.Monitor().GetStats(),
	})
}

func (handler *Admin) GetWorkerStats(c *fiber.Ctx) error {
	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Worker pool stats retrieved",
		Results: handler.Pool.Stats(),
	})
}
