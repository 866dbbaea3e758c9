package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/feedharvest/models"
)

// ListMoles returns a handler for GET /api/v1/moles.
func ListMoles(moles Moles) gin.HandlerFunc {
	return func(c *gin.Context) {
		names, err := moles.ListIdentities()
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.MolesResponse{Success: true, AvailableMoles: names})
	}
}

// AddMole returns a handler for POST /api/v1/moles. An existing mole with
// the same name is overwritten.
func AddMole(moles Moles) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.MoleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			invalidInput(c, err)
			return
		}
		if err := moles.AddIdentity(req.Name, req.Content); err != nil {
			respondError(c, err)
			return
		}
		names, _ := moles.ListIdentities()
		c.JSON(http.StatusCreated, models.MolesResponse{
			Success:        true,
			Message:        "mole " + req.Name + " stored",
			AvailableMoles: names,
		})
	}
}

// DeleteMole returns a handler for DELETE /api/v1/moles/:name. Deleting a
// mole that does not exist succeeds.
func DeleteMole(moles Moles) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		if err := moles.RemoveIdentity(name); err != nil {
			respondError(c, err)
			return
		}
		names, _ := moles.ListIdentities()
		c.JSON(http.StatusOK, models.MolesResponse{
			Success:        true,
			Message:        "mole " + name + " removed",
			AvailableMoles: names,
		})
	}
}
