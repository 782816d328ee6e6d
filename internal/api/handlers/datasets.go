package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/saelay/trdpstack/internal/api/models"
	"github.com/saelay/trdpstack/internal/marshal"
	"github.com/saelay/trdpstack/internal/store"
)

// ListDatasets returns every registered dataset schema.
//
// GET /api/v1/datasets
func (h *Handler) ListDatasets(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: "no telegram directory"})
		return
	}
	datasets, err := h.store.Datasets()
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: err.Error()})
		return
	}
	out := make([]models.Dataset, 0, len(datasets))
	for _, ds := range datasets {
		out = append(out, datasetModel(ds))
	}
	c.JSON(http.StatusOK, out)
}

// GetDataset returns one schema by id.
//
// GET /api/v1/datasets/:id
func (h *Handler) GetDataset(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: "no telegram directory"})
		return
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid dataset id"})
		return
	}
	ds, err := h.store.Dataset(uint32(id))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, datasetModel(ds))
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: err.Error()})
	}
}

// PutDataset creates or replaces a schema.
//
// PUT /api/v1/datasets/:id
func (h *Handler) PutDataset(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: "no telegram directory"})
		return
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid dataset id"})
		return
	}
	var body models.Dataset
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}
	ds := &marshal.Dataset{ID: uint32(id)}
	for _, el := range body.Elements {
		ds.Elements = append(ds.Elements, marshal.Element{
			Type:  marshal.ElementType(el.Type),
			Count: el.Count,
		})
	}
	if err := h.store.PutDataset(ds); err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, datasetModel(ds))
}

// DeleteDataset removes a schema.
//
// DELETE /api/v1/datasets/:id
func (h *Handler) DeleteDataset(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: "no telegram directory"})
		return
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid dataset id"})
		return
	}
	switch err := h.store.DeleteDataset(uint32(id)); {
	case err == nil:
		c.Status(http.StatusNoContent)
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: err.Error()})
	}
}

// ListBindings returns the comId bindings.
//
// GET /api/v1/comids
func (h *Handler) ListBindings(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: "no telegram directory"})
		return
	}
	maps, err := h.store.Mappings()
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: err.Error()})
		return
	}
	out := make([]models.ComIDBinding, 0, len(maps))
	for _, m := range maps {
		out = append(out, models.ComIDBinding{ComID: m.ComID, DatasetID: m.DatasetID})
	}
	c.JSON(http.StatusOK, out)
}

// PutBinding binds a comId to a dataset.
//
// POST /api/v1/comids
func (h *Handler) PutBinding(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: "no telegram directory"})
		return
	}
	var body models.ComIDBinding
	if err := c.ShouldBindJSON(&body); err != nil || body.ComID == 0 {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid binding"})
		return
	}
	switch err := h.store.BindComID(body.ComID, body.DatasetID); {
	case err == nil:
		c.JSON(http.StatusOK, body)
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: err.Error()})
	}
}

func datasetModel(ds *marshal.Dataset) models.Dataset {
	out := models.Dataset{ID: ds.ID, Elements: make([]models.DatasetElement, 0, len(ds.Elements))}
	for _, el := range ds.Elements {
		out.Elements = append(out.Elements, models.DatasetElement{Type: uint32(el.Type), Count: el.Count})
	}
	return out
}
