package handler

import "identify/internal/contact/models"

// IdentifyResponse wraps the consolidated view returned by POST /identify.
type IdentifyResponse struct {
	Contact *models.ConsolidatedContact `json:"contact"`
}
