package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/replyhub/replyhub/app/repository"
)

// HandleListOrganizations returns tenant organizations for the admin
// console's billing overview. Admin only.
func HandleListOrganizations(c *fiber.Ctx) error {
	offset := c.QueryInt("offset", 0)
	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	repo := repository.GetGlobalFactory().GetOrganizationRepository()
	orgs, err := repo.List(offset, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Organization list failed"})
	}
	total, err := repo.Count()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Organization count failed"})
	}
	return c.JSON(fiber.Map{"organizations": orgs, "total": total})
}
