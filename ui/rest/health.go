package rest

import (
	"github.com/gofiber/fiber/v2"

	"github.com/businesswalrus/pup.ai/config"
	"github.com/businesswalrus/pup.ai/pkg/utils"
)

type Health struct{}

func InitRestHealth(app fiber.Router) Health {
	rest := Health{}
	app.Get("/health", rest.GetHealth)
	app.Get("/version", rest.GetVersion)
	return rest
}

func (handler *Health) GetHealth(c *fiber.Ctx) error {
	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "ok",
	})
}

func (handler *Health) GetVersion(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"version": config.AppVersion,
	})
}
