/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	model2 "github.com/blnkfinance/payouts/api/model"
)

// RequestPayout reserves a payout. A repeat of an earlier request returns
// the original payout with 200 instead of 201.
func (a Api) RequestPayout(c *gin.Context) {
	var req model2.RequestPayout
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := req.ValidateRequestPayout(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	payout, replayed, err := a.service.RequestPayoutWithReplay(c.Request.Context(), req.CreatorID, req.StatementIDs, req.Requester())
	if err != nil {
		respondWithError(c, err)
		return
	}

	status := http.StatusCreated
	if replayed {
		status = http.StatusOK
	}
	c.JSON(status, payout)
}

// GetPayout returns a payout. include=attempts,transitions adds its audit
// trail.
func (a Api) GetPayout(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	include, err := model2.ParseInclude(c.Query("include"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if !include.Any() {
		payout, err := a.service.GetPayoutStatus(c.Request.Context(), id)
		if err != nil {
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, payout)
		return
	}

	details, err := a.service.GetPayoutDetails(c.Request.Context(), id, include.Attempts, include.Transitions)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, details)
}
