/*
Copyright 2024 Confere Labs Authors.

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
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/conferelabs/confere"
	"github.com/conferelabs/confere/internal/apierror"
	"github.com/conferelabs/confere/internal/extractor"
	"github.com/conferelabs/confere/internal/files"
	"github.com/conferelabs/confere/model"
)

// CreateSession opens a new reconciliation session.
func (a Api) CreateSession(c *gin.Context) {
	session := a.svc.CreateSession()
	c.JSON(http.StatusCreated, gin.H{"session_id": session.SessionID})
}

// GetSession returns the current state and counts of a session.
func (a Api) GetSession(c *gin.Context) {
	session, err := a.svc.GetSession(c.Param("id"))
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session.Summary())
}

// DeleteSession drops a session and everything it holds.
func (a Api) DeleteSession(c *gin.Context) {
	if err := a.svc.DeleteSession(c.Param("id")); err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "session deleted"})
}

// LoadSession ingests a multipart batch: receipt images under the "receipts"
// field and one statement file per bank-tag field (itau, corpx, digital,
// generic). The format tag is the explicit field name, never inferred from
// upload metadata.
func (a Api) LoadSession(c *gin.Context) {
	session, err := a.svc.GetSession(c.Param("id"))
	if err != nil {
		a.respondError(c, err)
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart form upload failed"})
		return
	}

	receipts, err := a.collectReceipts(form.File["receipts"])
	if err != nil {
		logrus.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store receipt uploads"})
		return
	}

	statements, err := a.collectStatements(form)
	if err != nil {
		logrus.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store statement uploads"})
		return
	}

	if len(receipts) == 0 && len(statements) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "upload at least one receipt or statement"})
		return
	}

	if err := session.Load(c.Request.Context(), receipts, statements); err != nil {
		a.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, session.Summary())
}

func (a Api) collectReceipts(headers []*multipart.FileHeader) ([]confere.ReceiptFile, error) {
	var receipts []confere.ReceiptFile
	for _, header := range headers {
		data, err := readUpload(header)
		if err != nil {
			return nil, err
		}
		stored, err := files.SaveReceipt(a.svc.DataDir(), header.Filename, data)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, confere.ReceiptFile{
			Path: stored,
			MIME: header.Header.Get("Content-Type"),
			Data: data,
		})
	}
	return receipts, nil
}

func (a Api) collectStatements(form *multipart.Form) (map[model.SourceBank]confere.StatementFile, error) {
	statements := make(map[model.SourceBank]confere.StatementFile)
	for _, bank := range model.KnownSourceBanks() {
		headers := form.File[string(bank)]
		if len(headers) == 0 {
			continue
		}
		header := headers[0]
		data, err := readUpload(header)
		if err != nil {
			return nil, err
		}
		stored, err := files.SaveStatement(a.svc.DataDir(), string(bank), header.Filename, data)
		if err != nil {
			return nil, err
		}
		statements[bank] = confere.StatementFile{Filename: stored, Data: data}
	}
	return statements, nil
}

func readUpload(header *multipart.FileHeader) ([]byte, error) {
	file, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

// ValidateSession runs the matching engine and returns both partitions.
func (a Api) ValidateSession(c *gin.Context) {
	session, err := a.svc.GetSession(c.Param("id"))
	if err != nil {
		a.respondError(c, err)
		return
	}

	valid, invalid, err := session.Validate(c.Request.Context())
	if err != nil {
		a.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"valid": valid, "invalid": invalid})
}

type decisionRequest struct {
	MatchID string `json:"match_id" binding:"required"`
}

// ApproveMatch records an operator approval for a valid match.
func (a Api) ApproveMatch(c *gin.Context) {
	a.decide(c, func(s *confere.Session, id string) error { return s.Approve(id) })
}

// RejectMatch records an operator rejection for a valid match.
func (a Api) RejectMatch(c *gin.Context) {
	a.decide(c, func(s *confere.Session, id string) error { return s.Reject(id) })
}

func (a Api) decide(c *gin.Context, apply func(*confere.Session, string) error) {
	session, err := a.svc.GetSession(c.Param("id"))
	if err != nil {
		a.respondError(c, err)
		return
	}

	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := apply(session, req.MatchID); err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session.Summary())
}

// SessionReport returns the finalize() snapshot: approved, rejected and the
// full valid-match set.
func (a Api) SessionReport(c *gin.Context) {
	session, err := a.svc.GetSession(c.Param("id"))
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session.Finalize())
}

// ClearSession resets a session to its initial empty state.
func (a Api) ClearSession(c *gin.Context) {
	session, err := a.svc.GetSession(c.Param("id"))
	if err != nil {
		a.respondError(c, err)
		return
	}
	session.Clear()
	c.JSON(http.StatusOK, session.Summary())
}

// respondError translates domain and extraction errors into API errors.
func (a Api) respondError(c *gin.Context, err error) {
	var apiErr apierror.APIError
	switch {
	case errors.Is(err, confere.ErrSessionNotFound):
		apiErr = apierror.NewAPIError(apierror.ErrNotFound, "session not found", err.Error())
	case errors.Is(err, confere.ErrUnknownMatchID):
		apiErr = apierror.NewAPIError(apierror.ErrNotFound, "match not found in valid set", err.Error())
	case errors.Is(err, confere.ErrUnsupportedFormat):
		apiErr = apierror.NewAPIError(apierror.ErrInvalidInput, "unsupported statement format", err.Error())
	case errors.Is(err, confere.ErrNotLoaded), errors.Is(err, confere.ErrNotValidated):
		apiErr = apierror.NewAPIError(apierror.ErrConflict, "operation not allowed in current session state", err.Error())
	case extractor.IsKind(err, extractor.KindServiceError),
		extractor.IsKind(err, extractor.KindMalformedResponse),
		extractor.IsKind(err, extractor.KindUnexpected):
		apiErr = apierror.NewAPIError(apierror.ErrUpstream, "document extraction failed", err.Error())
	default:
		apiErr = apierror.NewAPIError(apierror.ErrInternalServer, "internal error", err.Error())
	}
	c.JSON(apierror.MapErrorToHTTPStatus(apiErr), apiErr)
}
