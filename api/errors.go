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
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/blnkfinance/payouts/internal/apierror"
	"github.com/blnkfinance/payouts/model"
)

// respondWithError writes the status mapped from err and a message that is
// safe to show the caller. Provider codes and internal details stay in logs.
func respondWithError(c *gin.Context, err error) {
	c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": errorMessage(err)})
}

func errorMessage(err error) string {
	var apiErr apierror.APIError
	if errors.As(err, &apiErr) && apiErr.Code != apierror.ErrInternalServer {
		return apiErr.Message
	}
	for _, sentinel := range []error{model.ErrPayoutNotFound, model.ErrInvalidStatements, model.ErrNoPayableAmount} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return model.UserMessage(err)
}

func pathID(c *gin.Context) (string, bool) {
	id, passed := c.Params.Get("id")
	if !passed || id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return "", false
	}
	return id, true
}
