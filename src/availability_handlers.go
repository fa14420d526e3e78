package main

import (
	"net/http"

	"nftdiarias/src/boot"
	"nftdiarias/src/lifecycle"
	"nftdiarias/src/types"

	"github.com/gin-gonic/gin"
)

func availabilityHandlers(g *gin.RouterGroup, s *boot.Services) *gin.RouterGroup {
	g.
		GET("/validar-diaria/isAvailable/:propertyId", func(ctx *gin.Context) {
			var params types.PropertyURIParams
			if err := ctx.ShouldBindUri(&params); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": lifecycle.KindInvalidInput})
				return
			}
			var query types.AvailabilityQuery
			if err := ctx.ShouldBindQuery(&query); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": "start and end are required", "kind": lifecycle.KindInvalidInput})
				return
			}
			ok, err := s.Manager.CheckAvailability(ctx, params.PropertyID, query.Start, query.End)
			if err != nil {
				respondError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"available": ok})
		})
	return g
}
