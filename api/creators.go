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
)

// GetBalance returns the creator's payout balance.
func (a Api) GetBalance(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	balance, err := a.service.GetBalance(c.Request.Context(), id)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, balance)
}

// GetEligibility returns the creator's eligibility with reasons.
func (a Api) GetEligibility(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	result, err := a.service.CheckEligibility(c.Request.Context(), id)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
