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
	"time"

	"github.com/gin-gonic/gin"

	"github.com/blnkfinance/payouts"
	model2 "github.com/blnkfinance/payouts/api/model"
)

// TriggerSweep runs a reconciliation sweep now over payouts not updated
// within staleness_seconds.
func (a Api) TriggerSweep(c *gin.Context) {
	var req model2.TriggerSweep
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := req.ValidateTriggerSweep(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	corrected, err := a.sweeper.SweepNow(c.Request.Context(), time.Duration(req.StalenessSeconds)*time.Second)
	if err != nil {
		respondWithError(c, err)
		return
	}
	if corrected == nil {
		corrected = []payouts.CorrectedPayout{}
	}

	c.JSON(http.StatusOK, gin.H{"corrected": corrected, "count": len(corrected)})
}
