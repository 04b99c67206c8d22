package api

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sort"

	"github.com/gorilla/mux"

	"imagery-explorer/internal/common"
	"imagery-explorer/internal/explorer"
	"imagery-explorer/internal/exports"
	"imagery-explorer/internal/registry"
	"imagery-explorer/internal/stac"
	"imagery-explorer/internal/taskqueue"
)

type exportRequest struct {
	Workspace string                      `json:"workspace"`
	Item      string                      `json:"item,omitempty"`
	Band      string                      `json:"band,omitempty"`
	BBox      common.BoundingBox          `json:"bbox"`
	Zoom      int                         `json:"zoom"`
	Format    string                      `json:"format,omitempty"`
	Range     bool                        `json:"range,omitempty"`
	Name      string                      `json:"name,omitempty"`
	Priority  int                         `json:"priority,omitempty"`
	Rescale   *registry.RescaleOverride   `json:"rescale,omitempty"`
	Timelapse *taskqueue.TimelapseOptions `json:"timelapse,omitempty"`
}

func (h *Handler) submitExport(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	formatName := req.Format
	if formatName == "" {
		formatName = "geotiff"
	}
	format, err := common.ParseDownloadFormat(formatName)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if format.SaveGIF && !req.Range {
		writeError(w, http.StatusBadRequest, errors.New("gif format requires a date range export"))
		return
	}

	ws, err := h.Store.Get(req.Workspace)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	if err := exports.ValidateCoordinates(req.BBox, req.Zoom); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := exports.CheckTileBudget(req.BBox, req.Zoom); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	items, collection, band, err := h.buildExportItems(ws, &req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	name := req.Name
	if name == "" {
		name = defaultTaskName(collection, band, req.Zoom, items)
	}

	task := taskqueue.NewExportTask(name, collection, band, req.BBox, req.Zoom, items)
	task.WorkspaceID = ws.ID
	task.Format = formatName
	task.Priority = req.Priority
	task.Rescale = req.Rescale
	task.Timelapse = req.Timelapse

	if err := h.Queue.AddTask(task); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	h.track("export_queued", map[string]interface{}{
		"format": formatName,
		"frames": len(items),
		"zoom":   req.Zoom,
	})

	writeJSON(w, http.StatusAccepted, task)
}

// buildExportItems resolves the request into per-frame tile templates.
// A range export snapshots every result of the workspace's last search in
// chronological order; a single export takes just the named item.
func (h *Handler) buildExportItems(ws *explorer.Workspace, req *exportRequest) ([]taskqueue.ExportItem, string, string, error) {
	endpoints := h.Endpoints()

	var sources []stac.Item
	if req.Range {
		if len(ws.Results) == 0 {
			return nil, "", "", errors.New("workspace has no search results to export")
		}
		sources = append(sources, ws.Results...)
		sort.Slice(sources, func(i, j int) bool {
			return sources[i].Datetime.Before(sources[j].Datetime)
		})
	} else {
		if req.Item == "" {
			return nil, "", "", errors.New("item is required for a single scene export")
		}
		item, err := ws.Item(req.Item)
		if err != nil {
			return nil, "", "", err
		}
		sources = []stac.Item{*item}
	}

	collection := sources[0].Collection
	band := req.Band
	if band == "" {
		col, err := h.Registry.Get(collection)
		if err != nil {
			return nil, "", "", err
		}
		band = col.DefaultBand
	}

	items := make([]taskqueue.ExportItem, 0, len(sources))
	for _, item := range sources {
		template, err := h.Registry.BuildTileURL(endpoints.TiTiler, endpoints.STAC, item.Collection, item.ID, band, req.Rescale)
		if err != nil {
			return nil, "", "", err
		}
		items = append(items, taskqueue.ExportItem{
			ID:   item.ID,
			URL:  template,
			Date: item.Datetime.Format("2006-01-02"),
		})
	}
	return items, collection, band, nil
}

func defaultTaskName(collection, band string, zoom int, items []taskqueue.ExportItem) string {
	if len(items) == 1 {
		return fmt.Sprintf("%s %s z%d", items[0].ID, band, zoom)
	}
	return fmt.Sprintf("%s %s %s to %s (%d scenes)",
		collection, band, items[0].Date, items[len(items)-1].Date, len(items))
}

func (h *Handler) listExports(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tasks": h.Queue.GetAllTasks(),
	})
}

func (h *Handler) getExport(w http.ResponseWriter, r *http.Request) {
	task, err := h.Queue.GetTask(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *Handler) cancelExport(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.Queue.CancelTask(id); err != nil {
		if errors.Is(err, taskqueue.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, err)
		} else {
			writeError(w, http.StatusConflict, err)
		}
		return
	}

	task, err := h.Queue.GetTask(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *Handler) downloadExport(w http.ResponseWriter, r *http.Request) {
	task, err := h.Queue.GetTask(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if task.Status != taskqueue.TaskStatusCompleted {
		writeError(w, http.StatusConflict, fmt.Errorf("task is %s, not completed", task.Status))
		return
	}
	if task.OutputPath == "" {
		writeError(w, http.StatusNotFound, errors.New("task has no output file"))
		return
	}
	if err := exports.ValidateOutputPath(h.ExportDir(), task.OutputPath); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	info, err := os.Stat(task.OutputPath)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("output file is missing: %w", err))
		return
	}

	if info.IsDir() {
		h.streamDirectoryZip(w, task.OutputPath)
		return
	}

	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", filepath.Base(task.OutputPath)))
	http.ServeFile(w, r, task.OutputPath)
}

// streamDirectoryZip zips a tile directory straight into the response.
// Errors after the first write can only be logged since headers are gone.
func (h *Handler) streamDirectoryZip(w http.ResponseWriter, dir string) {
	base := filepath.Base(dir)
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", base+".zip"))

	zw := zip.NewWriter(w)
	defer zw.Close()

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		dst, err := zw.Create(filepath.ToSlash(filepath.Join(base, rel)))
		if err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(dst, src)
		return err
	})
	if err != nil {
		log.Printf("[API] Failed to stream archive for %s: %v", dir, err)
	}
}

func (h *Handler) queueStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Queue.GetStatus())
}

func (h *Handler) pauseQueue(w http.ResponseWriter, _ *http.Request) {
	if err := h.Queue.PauseQueue(); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Queue.GetStatus())
}

func (h *Handler) resumeQueue(w http.ResponseWriter, _ *http.Request) {
	if err := h.Queue.StartQueue(); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Queue.GetStatus())
}

func (h *Handler) clearCompleted(w http.ResponseWriter, _ *http.Request) {
	h.Queue.ClearCompleted()
	w.WriteHeader(http.StatusNoContent)
}
