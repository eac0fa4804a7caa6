package handlers

import (
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"globlept.co.uk/app/internal/http/middleware"
	"globlept.co.uk/app/internal/modules/prescriptions"
	"globlept.co.uk/app/internal/shared/apperr"
	"globlept.co.uk/app/internal/shared/authz"
	"globlept.co.uk/app/pkg/view"
)

const maxUploadMemory = 16 << 20

type PrescriptionsHandler struct {
	Svc *prescriptions.Service
}

func NewPrescriptionsHandler(svc *prescriptions.Service) *PrescriptionsHandler {
	return &PrescriptionsHandler{Svc: svc}
}

func (h *PrescriptionsHandler) present(p prescriptions.Prescription) view.Prescription {
	return view.NewPrescription(p, h.Svc.DocumentURL)
}

// Submit accepts either a JSON body or a multipart form with the JSON in a
// "payload" field and the scans under "documents".
func (h *PrescriptionsHandler) Submit(c *gin.Context) {
	var in prescriptions.SubmitInput

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		if err := c.Request.ParseMultipartForm(maxUploadMemory); err != nil {
			middleware.Fail(c, apperr.InvalidErr("The upload could not be read.", map[string]string{"documents": "Upload is malformed or too large."}))
			return
		}
		if err := json.Unmarshal([]byte(c.PostForm("payload")), &in); err != nil {
			middleware.Fail(c, apperr.InvalidErr("Some fields are invalid.", map[string]string{"payload": "Must be a JSON document."}))
			return
		}
		files := c.Request.MultipartForm.File["documents"]
		docs, closeAll, err := openDocuments(files)
		defer closeAll()
		if err != nil {
			middleware.Fail(c, apperr.InvalidErr("The upload could not be read.", map[string]string{"documents": err.Error()}))
			return
		}
		in.Documents = docs
	} else if !bindJSON(c, &in) {
		return
	}

	p, err := h.Svc.Submit(c.Request.Context(), actorOf(c), in)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, h.present(p))
}

func openDocuments(files []*multipart.FileHeader) ([]prescriptions.Document, func(), error) {
	var opened []multipart.File
	closeAll := func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}
	docs := make([]prescriptions.Document, 0, len(files))
	for i, fh := range files {
		f, err := fh.Open()
		if err != nil {
			return nil, closeAll, fmt.Errorf("file %d could not be opened", i)
		}
		opened = append(opened, f)
		docs = append(docs, prescriptions.Document{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Size:        fh.Size,
			Body:        f,
		})
	}
	return docs, closeAll, nil
}

func (h *PrescriptionsHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	p, err := h.Svc.Get(c.Request.Context(), actorOf(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.present(p))
}

func (h *PrescriptionsHandler) History(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	evs, err := h.Svc.History(c.Request.Context(), actorOf(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": view.NewPrescriptionEvents(evs)})
}

// List serves customers their own prescriptions and staff the review queue.
func (h *PrescriptionsHandler) List(c *gin.Context) {
	actor := actorOf(c)
	page := parseInt(c.Query("page"), 1)
	size := parseInt(c.Query("page_size"), defaultPageSize)

	var status prescriptions.Status
	if raw := c.Query("status"); raw != "" {
		st, err := prescriptions.ParseStatus(raw)
		if err != nil {
			middleware.Fail(c, apperr.InvalidErr("Some fields are invalid.", map[string]string{"status": "Unknown status."}))
			return
		}
		status = st
	}

	var (
		res prescriptions.ListResult
		err error
	)
	if actor.Is(authz.Staff...) {
		res, err = h.Svc.ListForStaff(c.Request.Context(), actor, prescriptions.ListParams{
			CustomerID: queryUint(c, "customer_id"),
			AssigneeID: queryUint(c, "assignee_id"),
			Status:     status,
			Page:       page,
			PageSize:   size,
		})
	} else {
		res, err = h.Svc.ListForCustomer(c.Request.Context(), actor, status, page, size)
	}
	if err != nil {
		fail(c, err)
		return
	}

	items := make([]view.Prescription, 0, len(res.Items))
	for _, p := range res.Items {
		items = append(items, h.present(p))
	}
	c.JSON(http.StatusOK, view.Page[view.Prescription]{Items: items, Total: res.Total, Page: res.Page, PageSize: res.PageSize})
}

func (h *PrescriptionsHandler) Cancel(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	p, err := h.Svc.Cancel(c.Request.Context(), actorOf(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.present(p))
}

func (h *PrescriptionsHandler) Delete(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.Svc.Delete(c.Request.Context(), actorOf(c), id); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func queryUint(c *gin.Context, key string) uint64 {
	n, _ := strconv.ParseUint(c.Query(key), 10, 64)
	return n
}
