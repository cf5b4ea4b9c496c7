package handlers

import "github.com/gofiber/fiber/v2"

// UploadSignature signs a direct-to-Cloudinary upload of message media.
func (h *Handler) UploadSignature(c *fiber.Ctx) error {
	if _, err := identity(c); err != nil {
		return err
	}
	sig, err := h.media.SignUpload()
	if err != nil {
		return err
	}
	return c.JSON(sig)
}
